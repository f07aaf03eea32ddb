package hosted

import "html/template"

// The processor document runs in a sandboxed srcdoc frame without
// allow-same-origin, so it cannot read this page or the session cookie.
const windowTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Complete your payment</title>
<style>
html, body { margin: 0; height: 100%; font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; }
iframe { border: 0; width: 100%; height: 100%; display: block; }
</style>
</head>
<body>
<iframe title="Payment" sandbox="allow-forms allow-scripts allow-popups allow-top-navigation-by-user-activation" srcdoc="{{.Document}}"></iframe>
<script>
(function () {
  var base = {{.BasePath}};
  var interval = {{.HeartbeatMillis}};
  function beat() {
    fetch(base + "/heartbeat", { method: "POST", credentials: "same-origin", keepalive: true }).catch(function () {});
  }
  var timer = setInterval(beat, interval);
  window.addEventListener("pagehide", function (event) {
    if (event.persisted) { return; }
    clearInterval(timer);
    navigator.sendBeacon(base + "/closed");
  });
})();
</script>
</body>
</html>
`

const messageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; background: #f5f5f5; margin: 0; padding: 40px 20px; }
.card { max-width: 480px; margin: 0 auto; background: #fff; border-radius: 8px; padding: 32px; box-shadow: 0 2px 8px rgba(0,0,0,0.08); text-align: center; }
h1 { font-size: 20px; color: #333; }
p { color: #666; }
</style>
</head>
<body>
<div class="card">
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
</div>
</body>
</html>
`

var (
	windowPage  = template.Must(template.New("window").Parse(windowTemplate))
	messagePage = template.Must(template.New("message").Parse(messageTemplate))
)
