package webhook

// Source verifies and decodes the webhooks of one payment gateway.
type Source interface {
	// Name is stored with every event and picks the source again on replay.
	Name() string
	// Decode checks signature over body and parses it. Rejected input is
	// reported as ErrInvalidSignature or ErrMalformedPayload.
	Decode(body []byte, signature, fallbackID string) (*Event, error)
	// Parse decodes a stored body that passed Decode when it arrived.
	Parse(body []byte, eventID string) (*Event, error)
}

// DefaultSource names the HMAC-signed gateway webhooks.
const DefaultSource = "gateway"

type signedSource struct {
	verifier *Verifier
}

func (s signedSource) Name() string { return DefaultSource }

func (s signedSource) Decode(body []byte, signature, fallbackID string) (*Event, error) {
	if err := s.verifier.Verify(body, signature); err != nil {
		return nil, err
	}
	return ParseEvent(body, fallbackID)
}

func (s signedSource) Parse(body []byte, eventID string) (*Event, error) {
	return ParseEvent(body, eventID)
}
