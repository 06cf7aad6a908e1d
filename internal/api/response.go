package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/PizzaPipe/internal/models"
	"github.com/BTreeMap/PizzaPipe/internal/twiliowhatsapp"
)

const (
	contentTypeJSON = "application/json"
	contentTypeXML  = "application/xml"
)

// internalErrorJSON is sent when a response value cannot be encoded.
var internalErrorJSON = []byte(`{"status":"` + string(models.APIStatusError) + `","message":"Internal server error"}`)

// writeJSONResponse encodes v before touching w, so an encoding failure still
// produces a well-formed 500.
func writeJSONResponse(w http.ResponseWriter, statusCode int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("writeJSONResponse: encode failed", "error", err)
		body, statusCode = internalErrorJSON, http.StatusInternalServerError
	}
	writeBody(w, statusCode, contentTypeJSON, body)
}

// writeTwiML answers a Twilio webhook with reply as the outgoing message and
// mediaURL, when set, attached to it. An empty reply tells Twilio to stay silent.
func writeTwiML(w http.ResponseWriter, reply, mediaURL string) {
	out, err := twiliowhatsapp.RenderTwiML(reply, mediaURL)
	if err != nil {
		slog.Error("writeTwiML: render failed", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	writeBody(w, http.StatusOK, contentTypeXML, []byte(out))
}

func writeBody(w http.ResponseWriter, statusCode int, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		slog.Error("writeBody: write failed", "content_type", contentType, "error", err)
	}
}
