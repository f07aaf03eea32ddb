package payment

import "html/template"

const resultTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{if .Success}}Payment Confirmed{{else}}Payment Not Confirmed{{end}}</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; background: #f5f5f5; margin: 0; padding: 40px 20px; }
.card { max-width: 520px; margin: 0 auto; background: #fff; border-radius: 8px; padding: 32px; box-shadow: 0 2px 8px rgba(0,0,0,0.08); }
.status { text-align: center; font-size: 22px; font-weight: 600; margin-bottom: 8px; }
.status.success { color: #28a745; }
.status.error { color: #dc3545; }
.message { text-align: center; color: #555; margin-bottom: 24px; }
.detail { text-align: center; color: #888; font-size: 14px; margin-bottom: 24px; }
.row { display: flex; justify-content: space-between; padding: 8px 0; border-bottom: 1px solid #eee; }
.label { color: #666; }
.value { color: #333; font-family: monospace; }
.actions { margin-top: 24px; text-align: center; }
button, a.button { display: inline-block; padding: 10px 20px; border-radius: 4px; border: 0; background: #007bff; color: #fff; text-decoration: none; font-size: 15px; cursor: pointer; }
a.secondary { background: #6c757d; margin-left: 8px; }
</style>
</head>
<body>
<div class="card" data-state="{{.State}}">
{{if .Success}}
<div class="status success">Payment confirmed</div>
<div class="message">Your subscription is active.</div>
{{else}}
<div class="status error">Payment not confirmed</div>
<div class="message">{{.Message}}</div>
{{if .Detail}}<div class="detail">{{.Detail}}</div>{{end}}
{{end}}
{{if .OrderNo}}<div class="row"><span class="label">Order</span><span class="value">{{.OrderNo}}</span></div>{{end}}
{{if .PlanID}}<div class="row"><span class="label">Plan</span><span class="value">{{.PlanID}}</span></div>{{end}}
{{with .Subscription}}
<div class="row"><span class="label">Status</span><span class="value">{{.Status}}</span></div>
<div class="row"><span class="label">Valid until</span><span class="value">{{.EndDate.Format "2006-01-02"}}</span></div>
{{end}}
<div class="actions">
{{if .Retryable}}
<form method="POST" action="{{.RetryPath}}" style="display:inline">
<input type="hidden" name="order_no" value="{{.OrderNo}}">
<button type="submit">Check again</button>
</form>
{{end}}
<a class="button{{if .Retryable}} secondary{{end}}" href="{{.CheckoutURL}}">Back to checkout</a>
</div>
</div>
</body>
</html>
`

var resultPage = template.Must(template.New("result").Parse(resultTemplate))
