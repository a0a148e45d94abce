package telegram

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strconv"
	"time"

	"github.com/wizlab/wildlife-camera/internal/clock"
)

// Boundary is the fixed multipart boundary of photo uploads
const Boundary = "TelegramMultipartBoundary"

// photoBody returns a reader over the multipart upload together with its
// content type and length. The JPEG is not copied; only the form head and
// tail are buffered.
func photoBody(chatID int64, caption string, jpeg []byte) (io.Reader, string, int64, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.SetBoundary(Boundary); err != nil {
		return nil, "", 0, err
	}
	if err := mw.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return nil, "", 0, err
	}
	if err := mw.WriteField("caption", caption); err != nil {
		return nil, "", 0, err
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="photo"; filename="photo.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	if _, err := mw.CreatePart(h); err != nil {
		return nil, "", 0, err
	}
	headLen := buf.Len()
	if err := mw.Close(); err != nil {
		return nil, "", 0, err
	}

	all := buf.Bytes()
	head, tail := all[:headLen], all[headLen:]
	length := int64(len(head) + len(jpeg) + len(tail))
	body := io.MultiReader(bytes.NewReader(head), bytes.NewReader(jpeg), bytes.NewReader(tail))
	return body, mw.FormDataContentType(), length, nil
}

// Caption builds the photo caption. Date and time are empty when the clock
// is unsynced.
func Caption(wall time.Time, sdUsedPercent int) string {
	return fmt.Sprintf("Wildlife Camera photo on the %s at %s\nSD Used Space: %d%%",
		clock.Format("%F", wall), clock.Format("%T", wall), sdUsedPercent)
}
