package templates

import (
	"fmt"
	"html"
)

// RenderChatClosedEmail generates the HTML body for the consultation-closed
// notification. The patient name is HTML-escaped before rendering.
func RenderChatClosedEmail(patientName string) string {
	safeName := html.EscapeString(patientName)

	return fmt.Sprintf(`<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.0 Strict//EN" "http://www.w3.org/TR/xhtml1/DTD/xhtml1-strict.dtd">
<html xmlns="http://www.w3.org/1999/xhtml">
<head>
  <meta http-equiv="Content-Type" content="text/html; charset=utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1, minimum-scale=1, maximum-scale=1">
  <title>Your consultation chat has ended</title>
  <style type="text/css">
    body { font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif; margin: 0; padding: 0; background-color: #f4f7fa; }
    .container { max-width: 600px; margin: 0 auto; background-color: #ffffff; }
    .header { background: linear-gradient(135deg, #2f80ed 0%%, #56ccf2 100%%); padding: 40px 30px; text-align: center; }
    .header h1 { color: #fff; margin: 0; font-size: 24px; font-weight: 700; }
    .content { padding: 40px 30px; color: #374151; line-height: 1.6; font-size: 15px; }
    .footer { padding: 30px; text-align: center; color: #6b7280; font-size: 12px; border-top: 1px solid rgba(0,0,0,0.08); }
  </style>
</head>
<body>
  <div class="container">
    <div class="header">
      <h1>Consultation ended</h1>
    </div>
    <div class="content">
      <p>Hi %s,</p>
      <p>Your clinician has ended the consultation chat. The conversation is
      now read-only; you can still review it from your appointments page at
      any time.</p>
      <p>If you have remaining questions, please book a follow-up
      appointment.</p>
    </div>
    <div class="footer">
      <p>&copy; CareSync</p>
    </div>
  </div>
</body>
</html>`, safeName)
}
