// Package dispatch delivers notifications to chat webhooks.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path"
	"strconv"

	"github.com/tidwall/gjson"
	"golang.org/x/xerrors"

	"cdr.dev/slog/v3"

	"github.com/borderwatch/borderwatch/borderd/notifications"
	"github.com/borderwatch/borderwatch/buildinfo"
)

// WebhookDispatcher delivers messages as embeds to Discord-compatible
// webhooks and edits them through the webhook's message endpoint.
type WebhookDispatcher struct {
	log slog.Logger
	cl  *http.Client
}

var _ notifications.Sink = (*WebhookDispatcher)(nil)

type embedImage struct {
	URL string `json:"url"`
}

type embed struct {
	Title     string                `json:"title"`
	Color     int                   `json:"color,omitempty"`
	Fields    []notifications.Field `json:"fields"`
	Thumbnail *embedImage           `json:"thumbnail,omitempty"`
	Image     *embedImage           `json:"image,omitempty"`
}

type attachmentRef struct {
	ID       int    `json:"id"`
	Filename string `json:"filename"`
}

// WebhookPayload is the JSON body of a delivery or edit.
type WebhookPayload struct {
	Embeds      []embed         `json:"embeds"`
	Attachments []attachmentRef `json:"attachments"`
}

func NewWebhookDispatcher(log slog.Logger, cl *http.Client) *WebhookDispatcher {
	if cl == nil {
		cl = &http.Client{}
	}
	return &WebhookDispatcher{log: log.Named("webhook"), cl: cl}
}

func toEmbed(msg notifications.Message) embed {
	e := embed{
		Title:  msg.Title,
		Color:  msg.Color,
		Fields: msg.Fields,
	}
	if e.Fields == nil {
		e.Fields = []notifications.Field{}
	}
	if msg.ThumbnailURL != "" {
		e.Thumbnail = &embedImage{URL: msg.ThumbnailURL}
	}
	if msg.ImageURL != "" {
		e.Image = &embedImage{URL: msg.ImageURL}
	}
	return e
}

// Deliver posts msg and returns a handle carrying the created message ID.
func (w *WebhookDispatcher) Deliver(ctx context.Context, dest notifications.Destination, msg notifications.Message) (notifications.Handle, error) {
	endpoint, err := url.Parse(dest.URL)
	if err != nil {
		return notifications.Handle{}, xerrors.Errorf("parse webhook url for %q: %w", dest.Ref, err)
	}
	q := endpoint.Query()
	q.Set("wait", "true")
	endpoint.RawQuery = q.Encode()

	body, err := json.Marshal(WebhookPayload{Embeds: []embed{toEmbed(msg)}, Attachments: []attachmentRef{}})
	if err != nil {
		return notifications.Handle{}, xerrors.Errorf("marshal payload: %w", err)
	}
	resp, err := w.do(ctx, http.MethodPost, endpoint.String(), "application/json", body)
	if err != nil {
		return notifications.Handle{}, xerrors.Errorf("deliver to %q: %w", dest.Ref, err)
	}
	id := gjson.GetBytes(resp, "id").String()
	if id == "" {
		return notifications.Handle{}, xerrors.Errorf("deliver to %q: response carried no message id", dest.Ref)
	}
	w.log.Debug(ctx, "delivered message", slog.F("destination", dest.Ref), slog.F("message_id", id))
	return notifications.Handle{Destination: dest, MessageID: id}, nil
}

// Edit replaces the content of a delivered message. Attachments replace
// any previously uploaded files.
func (w *WebhookDispatcher) Edit(ctx context.Context, h notifications.Handle, msg notifications.Message, attachments []notifications.Attachment) error {
	if !h.Valid() {
		return xerrors.New("edit requires a delivered message handle")
	}
	endpoint, err := url.Parse(h.Destination.URL)
	if err != nil {
		return xerrors.Errorf("parse webhook url for %q: %w", h.Destination.Ref, err)
	}
	endpoint.Path = path.Join(endpoint.Path, "messages", h.MessageID)

	// An empty attachment list drops files from earlier edits.
	payload := WebhookPayload{Embeds: []embed{toEmbed(msg)}, Attachments: []attachmentRef{}}
	for i, a := range attachments {
		payload.Attachments = append(payload.Attachments, attachmentRef{ID: i, Filename: a.Name})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return xerrors.Errorf("marshal payload: %w", err)
	}

	contentType := "application/json"
	if len(attachments) > 0 {
		body, contentType, err = multipartBody(body, attachments)
		if err != nil {
			return xerrors.Errorf("build multipart body: %w", err)
		}
	}
	if _, err := w.do(ctx, http.MethodPatch, endpoint.String(), contentType, body); err != nil {
		return xerrors.Errorf("edit message %s on %q: %w", h.MessageID, h.Destination.Ref, err)
	}
	w.log.Debug(ctx, "edited message",
		slog.F("destination", h.Destination.Ref),
		slog.F("message_id", h.MessageID),
		slog.F("attachments", len(attachments)),
	)
	return nil
}

func multipartBody(payloadJSON []byte, attachments []notifications.Attachment) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="payload_json"`)
	header.Set("Content-Type", "application/json")
	pw, err := mw.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := pw.Write(payloadJSON); err != nil {
		return nil, "", err
	}

	for i, a := range attachments {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition",
			`form-data; name="files[`+strconv.Itoa(i)+`]"; filename="`+a.Name+`"`)
		contentType := a.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header.Set("Content-Type", contentType)
		fw, err := mw.CreatePart(header)
		if err != nil {
			return nil, "", err
		}
		if _, err := fw.Write(a.Data); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

func (w *WebhookDispatcher) do(ctx context.Context, method, endpoint, contentType string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, xerrors.Errorf("create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", "borderwatch/"+buildinfo.Version())

	resp, err := w.cl.Do(req)
	if err != nil {
		return nil, xerrors.Errorf("send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, xerrors.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		snippet := respBody
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, xerrors.Errorf("non-2xx response (%d): %s", resp.StatusCode, snippet)
	}
	return respBody, nil
}
