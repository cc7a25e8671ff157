// Package parser turns a raw RFC 5322 message into a MessageRecord.
package parser

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/dhcgn/mail-export/model"
)

const plainText = "text/plain"

// Parse extracts sender, subject and the first text/plain body from raw.
//
// Parse never fails a record. A part that cannot be decoded is treated as
// carrying no body and the search continues. If the header block itself is
// malformed, the lines that still read as "Key: value" are kept and the body
// is left empty.
func Parse(raw []byte) (model.MessageRecord, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !isDecodeWarning(err) {
		header := mail.Header{Header: salvageHeader(raw)}
		return model.MessageRecord{
			Sender:  headerText(header, "From"),
			Subject: headerText(header, "Subject"),
		}, nil
	}

	header := mail.Header{Header: entity.Header}
	record := model.MessageRecord{
		Sender:  headerText(header, "From"),
		Subject: headerText(header, "Subject"),
	}

	if body, ok := firstPlainText(entity); ok {
		record.Body = strings.TrimSpace(body)
	}

	return record, nil
}

// salvageHeader reads the header block up to the first blank line, skipping
// lines that are not "Key: value" and joining folded continuation lines.
func salvageHeader(raw []byte) message.Header {
	var h message.Header
	var key, value string
	flush := func() {
		if key != "" {
			h.Add(key, strings.TrimSpace(value))
		}
		key, value = "", ""
	}

	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			break
		}
		if line[0] == ' ' || line[0] == '\t' {
			if key != "" {
				value += " " + strings.TrimSpace(line)
			}
			continue
		}
		flush()
		k, v, ok := strings.Cut(line, ":")
		if !ok || k == "" || strings.ContainsAny(k, " \t") {
			continue
		}
		key, value = k, v
	}
	flush()
	return h
}

// headerText decodes RFC 2047 encoded-words, falling back to the raw value.
func headerText(h mail.Header, key string) string {
	value, err := h.Text(key)
	if err != nil {
		return strings.TrimSpace(h.Get(key))
	}
	return strings.TrimSpace(value)
}

// firstPlainText walks the entity tree depth-first and returns the content of
// the first text/plain leaf that can be read.
func firstPlainText(e *message.Entity) (string, bool) {
	if mr := e.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				return "", false
			}
			if err != nil && !isDecodeWarning(err) {
				// the rest of this multipart is unreadable
				return "", false
			}
			if body, ok := firstPlainText(part); ok {
				return body, true
			}
		}
	}

	if mediaType(e.Header) != plainText {
		return "", false
	}

	content, err := io.ReadAll(e.Body)
	if err != nil {
		return "", false
	}
	return string(content), true
}

func mediaType(h message.Header) string {
	if h.Get("Content-Type") == "" {
		return plainText
	}
	t, _, err := h.ContentType()
	if err != nil {
		return ""
	}
	return strings.ToLower(t)
}

// isDecodeWarning reports errors after which go-message still hands back a
// usable entity whose body is left undecoded.
func isDecodeWarning(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}
