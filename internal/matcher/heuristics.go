package matcher

import (
	"bytes"
	"strings"

	"github.com/jhillyerd/enmime"

	"github.com/replywatch/replywatch-backend/internal/provider"
)

// replyMarkers are subject prefixes that mark a message as a reply, across
// the localizations the provider is known to emit
var replyMarkers = []string{
	"re:", "reply:", "res:", "resp:", // English
	"sv:",         // Swedish/Danish/Norwegian
	"aw:", "antw:", // German/Dutch
	"vs:",  // Finnish
	"odp:", // Polish
	"ynt:", // Turkish
	"ref:", // Portuguese
	"回复:", "回覆:", // Chinese
	"返信:", // Japanese
}

// forwardMarkers are stripped alongside reply markers when normalizing
// subjects, but do not qualify a message as a reply on their own
var forwardMarkers = []string{
	"fwd:", "fw:", // English
	"wg:",  // German
	"vl:",  // Finnish
	"tr:",  // French
	"enc:", // Portuguese
	"doorst:", "vb:", // Dutch/Swedish
	"转发:", "転送:",
}

var allMarkers = append(append([]string{}, replyMarkers...), forwardMarkers...)

// autoReplyPhrases flag out-of-office and similar automatic responses
var autoReplyPhrases = []string{
	"out of office", "out-of-office", "automatic reply", "autoreply",
	"auto-reply", "auto reply", "away from the office", "on vacation",
	"on annual leave", "currently unavailable",
	"abwesenheitsnotiz", "automatische antwort", // German
	"réponse automatique", "absence du bureau", // French
	"respuesta automática", "fuera de la oficina", // Spanish
	"risposta automatica", "fuori sede", // Italian
	"resposta automática", // Portuguese
	"automatiskt svar",    // Swedish
	"automatisch antwoord", // Dutch
	"自動返信", "不在通知", // Japanese
	"自动回复", // Chinese
}

// HasReplyMarker reports whether the subject starts with a reply prefix
func HasReplyMarker(subject string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(subject))
	for _, marker := range replyMarkers {
		if strings.HasPrefix(trimmed, marker) {
			return true
		}
	}
	return false
}

// NormalizeSubject lowercases the subject and strips every leading reply or
// forward marker, including stacked ones like "RE: FW: Re: budget"
func NormalizeSubject(subject string) string {
	s := strings.ToLower(strings.TrimSpace(subject))
	for {
		stripped := false
		for _, marker := range allMarkers {
			if strings.HasPrefix(s, marker) {
				s = strings.TrimSpace(strings.TrimPrefix(s, marker))
				stripped = true
			}
		}
		// bracketed thread counters like "re[2]:"
		if strings.HasPrefix(s, "re[") {
			if idx := strings.Index(s, "]:"); idx > 0 {
				s = strings.TrimSpace(s[idx+2:])
				stripped = true
			}
		}
		if !stripped {
			return s
		}
	}
}

// messageHeaders is the merged header view over a provider message: the raw
// MIME form when present, otherwise the provider's flattened header list
type messageHeaders struct {
	envelope *enmime.Envelope
	msg      *provider.Message
}

func headersOf(msg *provider.Message) messageHeaders {
	h := messageHeaders{msg: msg}
	if len(msg.MIMEContent) > 0 {
		if env, err := enmime.ReadEnvelope(bytes.NewReader(msg.MIMEContent)); err == nil {
			h.envelope = env
		}
	}
	return h
}

func (h messageHeaders) get(name string) string {
	if h.envelope != nil {
		if v := h.envelope.GetHeader(name); v != "" {
			return v
		}
	}
	return h.msg.Header(name)
}

// inThread reports whether the message carries threading headers that tie it
// to an earlier message
func (h messageHeaders) inThread() bool {
	return h.get("In-Reply-To") != "" || h.get("References") != ""
}

// isAutoSubmitted checks the RFC 3834 and vendor headers that mark a message
// as machine-generated
func (h messageHeaders) isAutoSubmitted() bool {
	if v := h.get("Auto-Submitted"); v != "" && !strings.EqualFold(v, "no") {
		return true
	}
	if v := h.get("X-Auto-Response-Suppress"); v != "" {
		upper := strings.ToUpper(v)
		if strings.Contains(upper, "OOF") || strings.Contains(upper, "AUTOREPLY") || strings.Contains(upper, "ALL") {
			return true
		}
	}
	switch strings.ToLower(h.get("Precedence")) {
	case "bulk", "auto_reply", "junk":
		return true
	}
	return h.get("X-Autoreply") != "" || h.get("X-Autorespond") != ""
}

// DetectAutoReply flags automatic responses using message headers first and
// subject/body phrases as a fallback
func DetectAutoReply(msg *provider.Message) bool {
	if headersOf(msg).isAutoSubmitted() {
		return true
	}
	subject := strings.ToLower(msg.Subject)
	preview := strings.ToLower(msg.BodyPreview)
	for _, phrase := range autoReplyPhrases {
		if strings.Contains(subject, phrase) || strings.Contains(preview, phrase) {
			return true
		}
	}
	return false
}
