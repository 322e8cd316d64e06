package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
)

// maxResponseBytes caps how much of a provider response is buffered.
const maxResponseBytes = 64 << 20

type multipartField struct {
	name     string
	value    string
	filename string
	mime     string
	data     []byte
}

func textField(name, value string) multipartField {
	return multipartField{name: name, value: value}
}

func fileField(name, filename, mime string, data []byte) multipartField {
	return multipartField{name: name, filename: filename, mime: mime, data: data}
}

func encodeMultipart(fields []multipartField) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for _, f := range fields {
		if f.filename == "" {
			if err := mw.WriteField(f.name, f.value); err != nil {
				return nil, "", err
			}
			continue
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.name, f.filename))
		h.Set("Content-Type", f.mime)
		w, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := w.Write(f.data); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf, mw.FormDataContentType(), nil
}

func jsonBody(payload any) (io.Reader, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(body), nil
}

// do performs req and returns the buffered body for 2xx responses. Any other
// status becomes an *Error carrying the provider's own message.
func do(ctx context.Context, client *http.Client, provider string, req *http.Request) ([]byte, http.Header, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, transportError(ctx, provider, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, nil, transportError(ctx, provider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.Header, statusError(provider, resp.StatusCode, errorMessage(raw, resp.StatusCode))
	}
	return raw, resp.Header, nil
}

// download fetches a result URL returned by an asynchronous backend.
func download(ctx context.Context, client *http.Client, provider, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSpace(url), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build download request: %w", provider, err)
	}
	data, _, err := do(ctx, client, provider, req)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, newError(provider, KindNoOutput, "Downloaded image is empty", nil)
	}
	return data, nil
}

func decodeBase64Image(provider, encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if i := strings.Index(encoded, ";base64,"); i >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[i+len(";base64,"):]
	}
	if encoded == "" {
		return nil, newError(provider, KindNoOutput, "No image data returned", nil)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, newError(provider, KindUnknown, "Malformed image data returned", err)
	}
	return data, nil
}

func dataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// sniffMIME returns the detected image content type, defaulting to PNG.
func sniffMIME(data []byte) string {
	if len(data) == 0 {
		return "image/png"
	}
	ct := http.DetectContentType(data)
	if strings.HasPrefix(ct, "image/") {
		return ct
	}
	return "image/png"
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
