package audit

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/reybrally/customer-sync-service/internal/logging"
)

const (
	MessageConsumed  = "consumed"
	MessagePublished = "published"
	MessageFailed    = "failed"
)

// correlationNamespace seeds deterministic correlation ids so publish,
// consume and fail records for one logical event line up across systems
// even when the envelope carried no id.
var correlationNamespace = uuid.MustParse("7d44a5a0-5c0f-4cf5-9a3a-9f3e1d2b6c41")

type Record struct {
	MessageType    string    `json:"messageType"`
	SourceSystem   string    `json:"sourceSystem"`
	EventType      string    `json:"eventType"`
	CorrelationID  string    `json:"correlationId"`
	EntityID       string    `json:"entityId"`
	EntityPayload  any       `json:"entityPayload,omitempty"`
	ProcessingTime int64     `json:"processingTimeMs"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Reporter posts message outcomes to the central audit store. Strictly
// best-effort: every failure is swallowed after a warning, and no call
// outlives the client timeout. An empty base URL disables reporting.
type Reporter struct {
	client  *http.Client
	baseURL string
	source  string
}

func NewReporter(baseURL, source string, timeout time.Duration) *Reporter {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Reporter{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		source:  source,
	}
}

func (r *Reporter) Consumed(eventType, entityID, correlationID string, payload any, processingMs int64) {
	r.post(Record{
		MessageType:    MessageConsumed,
		EventType:      eventType,
		EntityID:       entityID,
		CorrelationID:  correlationID,
		EntityPayload:  payload,
		ProcessingTime: processingMs,
	})
}

func (r *Reporter) Published(eventType, entityID, correlationID string, payload any) {
	r.post(Record{
		MessageType:   MessagePublished,
		EventType:     eventType,
		EntityID:      entityID,
		CorrelationID: correlationID,
		EntityPayload: payload,
	})
}

func (r *Reporter) Failed(eventType, entityID, correlationID string, payload any, errMsg string, processingMs int64) {
	r.post(Record{
		MessageType:    MessageFailed,
		EventType:      eventType,
		EntityID:       entityID,
		CorrelationID:  correlationID,
		EntityPayload:  payload,
		ErrorMessage:   errMsg,
		ProcessingTime: processingMs,
	})
}

func (r *Reporter) post(rec Record) {
	if r.baseURL == "" {
		return
	}
	rec.SourceSystem = r.source
	rec.Timestamp = time.Now().UTC()
	if rec.CorrelationID == "" {
		rec.CorrelationID = CorrelationID(rec.EventType, rec.EntityID)
	}

	body, err := json.Marshal(rec)
	if err != nil {
		logging.LogWarn("audit record not serializable", logrus.Fields{"error": err.Error()})
		return
	}

	resp, err := r.client.Post(r.baseURL+"/customers/messages", "application/json", bytes.NewReader(body))
	if err != nil {
		logging.LogWarn("audit post failed", logrus.Fields{
			"event_type": rec.EventType,
			"entity_id":  rec.EntityID,
			"error":      err.Error(),
		})
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logging.LogWarn("audit post rejected", logrus.Fields{
			"event_type": rec.EventType,
			"entity_id":  rec.EntityID,
			"status":     resp.StatusCode,
		})
	}
}

// CorrelationID derives the same id for the same eventType + entityId pair
// on every call.
func CorrelationID(eventType, entityID string) string {
	return uuid.NewSHA1(correlationNamespace, []byte(eventType+":"+entityID)).String()
}
