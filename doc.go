// Package bulkmailer sends one personalized email per row of a CSV file.
//
// A visual template (MJML, or Markdown) is compiled once into HTML markup, and
// that markup becomes a strict text template. Rows are then streamed from the
// CSV source, rendered, and handed to the provider one at a time, paced by a
// token bucket sized from the provider's sending quota. Every row produces
// exactly one event, delivered to listeners in file order.
//
// # Basic Usage
//
//	client, err := bulkmailer.New(bulkmailer.DefaultConfig(),
//		bulkmailer.WithSource("News <news@example.com>"),
//		bulkmailer.WithAWSSES("eu-west-1"),
//		bulkmailer.WithSubject("Hello {{ .name }}"),
//		bulkmailer.WithListener(bulkmailer.ListenerFuncs{
//			Sent:  func(e bulkmailer.SentEvent) { log.Println("sent", e.Row.Email(), e.Elapsed) },
//			Error: func(e bulkmailer.FailedEvent) { log.Println("failed", e.Row.Email(), e.Err) },
//		}),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	if err := client.SetMJML(ctx, "templates/index.mjml"); err != nil {
//		log.Fatal(err)
//	}
//	if err := client.SetCSVFromPath(ctx, "s3://lists/2024/emails.csv"); err != nil {
//		log.Fatal(err)
//	}
//	summary, err := client.Send(ctx)
//
// Template variables are the CSV columns: a column named "name" is available
// as {{ .name }}. Referencing a column the row does not have fails that row.
// The recipient is always the "email" column.
//
// # Supported Providers
//
//   - AWS SES (quota read from GetSendQuota)
//   - SendGrid, Mailgun and generic SMTP (quota taken from settings)
//   - Log, a dry run that only logs each message
package bulkmailer
