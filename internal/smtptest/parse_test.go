package smtptest

import (
	"strings"
	"testing"
)

func TestParsePlainTextEmail(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: \"Toucan Toco\" <sender@example.com>",
		"To: recipient@example.com",
		"Subject: Test Subject",
		"Message-Id: <test123@example.com>",
		"Content-Type: text/plain",
		"",
		"Hello, this is a plain text email.",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.From != "sender@example.com" {
		t.Errorf("From: got %q, want %q", msg.From, "sender@example.com")
	}
	if msg.FromName != "Toucan Toco" {
		t.Errorf("FromName: got %q, want %q", msg.FromName, "Toucan Toco")
	}
	if len(msg.To) != 1 || msg.To[0] != "recipient@example.com" {
		t.Errorf("To: got %v, want [recipient@example.com]", msg.To)
	}
	if msg.Subject != "Test Subject" {
		t.Errorf("Subject: got %q, want %q", msg.Subject, "Test Subject")
	}
	if msg.MessageID != "<test123@example.com>" {
		t.Errorf("MessageID: got %q, want %q", msg.MessageID, "<test123@example.com>")
	}
	if msg.TextBody != "Hello, this is a plain text email." {
		t.Errorf("TextBody: got %q", msg.TextBody)
	}
	if msg.HTMLBody != "" {
		t.Errorf("HTMLBody: got %q, want empty", msg.HTMLBody)
	}
}

func TestParseQuotedPrintableHTML(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: a@example.com, \"Bob\" <b@example.com>",
		"Subject: =?UTF-8?q?Caf=C3=A9?=",
		"Content-Type: text/html; charset=UTF-8",
		"Content-Transfer-Encoding: quoted-printable",
		"",
		"<p style=3D\"color:red\">hi</p>",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.Subject != "Café" {
		t.Errorf("Subject: got %q, want %q", msg.Subject, "Café")
	}
	if msg.HTMLBody != `<p style="color:red">hi</p>` {
		t.Errorf("HTMLBody: got %q", msg.HTMLBody)
	}
	if len(msg.To) != 2 || msg.To[0] != "a@example.com" || msg.To[1] != "b@example.com" {
		t.Errorf("To: got %v", msg.To)
	}
}

func TestParseEmailWithAttachments(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: With Attachment",
		"Content-Type: multipart/mixed; boundary=mixedboundary",
		"",
		"--mixedboundary",
		"Content-Type: multipart/alternative; boundary=alt",
		"",
		"--alt",
		"Content-Type: text/html",
		"",
		"<h1>html part</h1>",
		"--alt--",
		"--mixedboundary",
		"Content-Type: application/pdf; name=\"report.pdf\"",
		"Content-Disposition: attachment; filename=\"report.pdf\"",
		"Content-Transfer-Encoding: base64",
		"",
		"SGVsbG8g",
		"V29ybGQ=",
		"--mixedboundary--",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.HTMLBody != "<h1>html part</h1>" {
		t.Errorf("HTMLBody: got %q", msg.HTMLBody)
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("Attachments: got %d, want 1", len(msg.Attachments))
	}

	att := msg.Attachments[0]
	if att.Filename != "report.pdf" {
		t.Errorf("Filename: got %q, want %q", att.Filename, "report.pdf")
	}
	if att.ContentType != "application/pdf" {
		t.Errorf("ContentType: got %q, want %q", att.ContentType, "application/pdf")
	}
	if string(att.Content) != "Hello World" {
		t.Errorf("Content: got %q, want %q", att.Content, "Hello World")
	}
}

func TestParseMalformed(t *testing.T) {
	t.Parallel()

	t.Run("invalid header block", func(t *testing.T) {
		t.Parallel()
		if _, err := Parse([]byte("not a valid email at all\x00\x01\x02")); err == nil {
			t.Error("expected error, got nil")
		}
	})

	t.Run("multipart missing boundary", func(t *testing.T) {
		t.Parallel()
		raw := []byte(strings.Join([]string{
			"From: sender@example.com",
			"Content-Type: multipart/mixed",
			"",
			"some body",
		}, "\r\n"))
		if _, err := Parse(raw); err == nil {
			t.Error("expected error, got nil")
		}
	})

	t.Run("bad base64 attachment", func(t *testing.T) {
		t.Parallel()
		raw := []byte(strings.Join([]string{
			"From: sender@example.com",
			"Content-Type: multipart/mixed; boundary=b",
			"",
			"--b",
			"Content-Disposition: attachment; filename=\"x.bin\"",
			"Content-Transfer-Encoding: base64",
			"",
			"!!!notbase64",
			"--b--",
		}, "\r\n"))
		if _, err := Parse(raw); err == nil {
			t.Error("expected error, got nil")
		}
	})
}
