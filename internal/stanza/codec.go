package stanza

import (
	"encoding/json"
	"fmt"

	"mellium.im/xmpp/jid"
)

// The JSON codec is internal to the cluster transport: stanzas crossing node
// boundaries are re-encoded symmetrically on both ends. It is not a protocol
// wire format.

type envelope struct {
	Kind   Kind            `json:"kind"`
	Stanza json.RawMessage `json:"stanza"`
}

type headerDTO struct {
	ID   string `json:"id,omitempty"`
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

type messageDTO struct {
	headerDTO
	Type    MessageType `json:"type,omitempty"`
	Subject string      `json:"subject,omitempty"`
	Body    string      `json:"body,omitempty"`
	Payload []byte      `json:"payload,omitempty"`
}

type presenceDTO struct {
	headerDTO
	Type     PresenceType `json:"type,omitempty"`
	Show     Show         `json:"show,omitempty"`
	Status   string       `json:"status,omitempty"`
	Priority int8         `json:"priority,omitempty"`
}

type iqDTO struct {
	headerDTO
	Type    IQType `json:"type,omitempty"`
	Payload []byte `json:"payload,omitempty"`
}

func headerOut(h Header) headerDTO {
	return headerDTO{
		ID:   h.StanzaID,
		From: h.FromJID.String(),
		To:   h.ToJID.String(),
	}
}

func headerIn(d headerDTO) (Header, error) {
	h := Header{StanzaID: d.ID}
	if d.From != "" {
		from, err := jid.Parse(d.From)
		if err != nil {
			return Header{}, fmt.Errorf("decode from address: %w", err)
		}
		h.FromJID = from
	}
	if d.To != "" {
		to, err := jid.Parse(d.To)
		if err != nil {
			return Header{}, fmt.Errorf("decode to address: %w", err)
		}
		h.ToJID = to
	}
	return h, nil
}

// Encode serializes a stanza for the cluster transport.
func Encode(st Stanza) ([]byte, error) {
	var (
		inner []byte
		err   error
	)
	switch s := st.(type) {
	case *Message:
		inner, err = json.Marshal(messageDTO{
			headerDTO: headerOut(s.Header),
			Type:      s.Type,
			Subject:   s.Subject,
			Body:      s.Body,
			Payload:   s.Payload,
		})
	case *Presence:
		inner, err = json.Marshal(presenceDTO{
			headerDTO: headerOut(s.Header),
			Type:      s.Type,
			Show:      s.Show,
			Status:    s.Status,
			Priority:  s.Priority,
		})
	case *IQ:
		inner, err = json.Marshal(iqDTO{
			headerDTO: headerOut(s.Header),
			Type:      s.Type,
			Payload:   s.Payload,
		})
	default:
		return nil, fmt.Errorf("encode stanza: unsupported type %T", st)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Kind: st.Kind(), Stanza: inner})
}

// Decode reverses Encode.
func Decode(data []byte) (Stanza, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode stanza envelope: %w", err)
	}
	switch env.Kind {
	case KindMessage:
		var d messageDTO
		if err := json.Unmarshal(env.Stanza, &d); err != nil {
			return nil, err
		}
		h, err := headerIn(d.headerDTO)
		if err != nil {
			return nil, err
		}
		return &Message{Header: h, Type: d.Type, Subject: d.Subject, Body: d.Body, Payload: d.Payload}, nil
	case KindPresence:
		var d presenceDTO
		if err := json.Unmarshal(env.Stanza, &d); err != nil {
			return nil, err
		}
		h, err := headerIn(d.headerDTO)
		if err != nil {
			return nil, err
		}
		return &Presence{Header: h, Type: d.Type, Show: d.Show, Status: d.Status, Priority: d.Priority}, nil
	case KindIQ:
		var d iqDTO
		if err := json.Unmarshal(env.Stanza, &d); err != nil {
			return nil, err
		}
		h, err := headerIn(d.headerDTO)
		if err != nil {
			return nil, err
		}
		return &IQ{Header: h, Type: d.Type, Payload: d.Payload}, nil
	}
	return nil, fmt.Errorf("decode stanza: unknown kind %d", env.Kind)
}
