package smtptest

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
)

// Message is a received RFC 5322 message, decoded into the parts the mail
// providers produce.
type Message struct {
	From        string
	FromName    string
	To          []string
	Subject     string
	MessageID   string
	TextBody    string
	HTMLBody    string
	Attachments []Part
	Headers     mail.Header
}

// Part is a decoded attachment.
type Part struct {
	Filename    string
	ContentType string
	Content     []byte
}

var wordDecoder = new(mime.WordDecoder)

// Parse decodes a raw message. Single-part bodies and multipart trees
// (nested alternatives included) are supported; transfer encodings are
// removed from every part.
func Parse(raw []byte) (*Message, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	result := &Message{
		Headers:   msg.Header,
		MessageID: msg.Header.Get("Message-Id"),
		To:        parseAddressList(msg.Header.Get("To")),
	}

	result.Subject, err = wordDecoder.DecodeHeader(msg.Header.Get("Subject"))
	if err != nil {
		result.Subject = msg.Header.Get("Subject")
	}

	from := msg.Header.Get("From")
	if addr, err := mail.ParseAddress(from); err == nil {
		result.From = addr.Address
		result.FromName = addr.Name
	} else {
		result.From = from
	}

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		slog.Warn("failed to parse content type, treating as plain text",
			"content_type", contentType,
			"error", err,
		)
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("multipart message missing boundary")
		}
		if err := parseMultipart(msg.Body, boundary, result); err != nil {
			return nil, fmt.Errorf("failed to parse multipart message: %w", err)
		}
		return result, nil
	}

	body, err := decodeBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"))
	if err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}
	if mediaType == "text/html" {
		result.HTMLBody = string(body)
	} else {
		result.TextBody = string(body)
	}

	return result, nil
}

func parseMultipart(body io.Reader, boundary string, result *Message) error {
	reader := multipart.NewReader(body, boundary)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read next part: %w", err)
		}

		partContentType := part.Header.Get("Content-Type")
		if partContentType == "" {
			partContentType = "text/plain"
		}

		mediaType, params, err := mime.ParseMediaType(partContentType)
		if err != nil {
			slog.Warn("failed to parse part content type, skipping",
				"content_type", partContentType,
				"error", err,
			)
			continue
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			if err := parseMultipart(part, params["boundary"], result); err != nil {
				return err
			}
			continue
		}

		// multipart.Reader strips quoted-printable on its own.
		content, err := decodeBody(part, part.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			return fmt.Errorf("failed to read %s part: %w", mediaType, err)
		}

		filename := part.FileName()
		if filename == "" {
			filename = params["name"]
		}
		isAttachment := strings.HasPrefix(part.Header.Get("Content-Disposition"), "attachment")

		switch {
		case isAttachment || filename != "":
			result.Attachments = append(result.Attachments, Part{
				Filename:    filename,
				ContentType: mediaType,
				Content:     content,
			})
		case mediaType == "text/html" && result.HTMLBody == "":
			result.HTMLBody = string(content)
		case mediaType == "text/plain" && result.TextBody == "":
			result.TextBody = string(content)
		default:
			slog.Warn("unrecognized MIME part, skipping", "content_type", mediaType)
		}
	}
}

func decodeBody(r io.Reader, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		raw, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		cleaned := strings.NewReplacer("\r", "", "\n", "").Replace(string(raw))
		decoded, err := base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 content: %w", err)
		}
		return decoded, nil
	case "quoted-printable":
		return io.ReadAll(quotedprintable.NewReader(r))
	default:
		return io.ReadAll(r)
	}
}

func parseAddressList(raw string) []string {
	if raw == "" {
		return nil
	}

	addresses, err := mail.ParseAddressList(raw)
	if err != nil {
		var result []string
		for _, p := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}

	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		result = append(result, addr.Address)
	}
	return result
}
