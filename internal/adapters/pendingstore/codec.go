// Package pendingstore provides durable single-slot storage for the one
// in-flight payment attempt per device or per user.
package pendingstore

import (
	"encoding/json"
	"fmt"

	"github.com/kevin07696/subscription-checkout/internal/domain"
)

// DeviceSlotKey is the slot used when one process serves exactly one user
const DeviceSlotKey = "pending_payment"

// SlotKey returns the storage key for a user's slot; empty userID means the device slot
func SlotKey(userID string) string {
	if userID == "" {
		return DeviceSlotKey
	}
	return DeviceSlotKey + ":" + userID
}

// Encode serializes a record as {orderNo, planId, processor, timestamp}
func Encode(record domain.PendingPaymentRecord) ([]byte, error) {
	if record.OrderNo == "" {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed, "pending record requires orderNo")
	}
	return json.Marshal(record)
}

// Decode parses a stored record. A record without orderNo is treated as corrupt.
func Decode(data []byte) (*domain.PendingPaymentRecord, error) {
	var record domain.PendingPaymentRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("corrupt pending payment record: %w", err)
	}
	if record.OrderNo == "" {
		return nil, fmt.Errorf("corrupt pending payment record: missing orderNo")
	}
	return &record, nil
}
