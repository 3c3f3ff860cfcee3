package wechat

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// MessageType is the envelope's MsgType value.
type MessageType string

const (
	TypeText       MessageType = "text"
	TypeImage      MessageType = "image"
	TypeVoice      MessageType = "voice"
	TypeVideo      MessageType = "video"
	TypeShortVideo MessageType = "shortvideo"
	TypeLink       MessageType = "link"
	TypeEvent      MessageType = "event"
)

// EventKind is the normalized Event value of an event message.
type EventKind string

const (
	EventSubscribe   EventKind = "subscribe"
	EventUnsubscribe EventKind = "unsubscribe"
	EventScan        EventKind = "scan"
)

// sceneKeyPrefix is prepended to the EventKey of a subscribe triggered by
// scanning a parametric QR code.
const sceneKeyPrefix = "qrscene_"

// Header holds the envelope fields every inbound message carries.
type Header struct {
	ToUserName   string
	FromUserName string
	CreateTime   int64
	MsgID        int64
}

// Envelope returns the message header.
func (h Header) Envelope() Header { return h }

// Time returns CreateTime as a time.Time.
func (h Header) Time() time.Time { return time.Unix(h.CreateTime, 0) }

// Message is one decoded inbound message. The set of implementations is
// closed: TextMessage, ImageMessage, VoiceMessage, VideoMessage,
// LinkMessage, EventMessage and UnsupportedMessage.
type Message interface {
	Envelope() Header
	isMessage()
}

type TextMessage struct {
	Header
	Content string
}

type ImageMessage struct {
	Header
	PicURL  string
	MediaID string
}

type VoiceMessage struct {
	Header
	MediaID string
	Format  string
	// Recognition is the platform's speech-to-text result, when enabled.
	Recognition string
}

type VideoMessage struct {
	Header
	MediaID      string
	ThumbMediaID string
	Short        bool
}

type LinkMessage struct {
	Header
	URL         string
	Title       string
	Description string
}

type EventMessage struct {
	Header
	Kind     EventKind
	EventKey string
	Ticket   string
}

// SceneKey returns the QR scene value carried by the event, with the
// subscribe-with-scene prefix removed.
func (m EventMessage) SceneKey() string {
	return strings.TrimPrefix(m.EventKey, sceneKeyPrefix)
}

// UnsupportedMessage is any MsgType (or event name) this service does not
// handle. RawType is the MsgType, or "event:<Event>" for unknown events.
type UnsupportedMessage struct {
	Header
	RawType string
}

func (TextMessage) isMessage()        {}
func (ImageMessage) isMessage()       {}
func (VoiceMessage) isMessage()       {}
func (VideoMessage) isMessage()       {}
func (LinkMessage) isMessage()        {}
func (EventMessage) isMessage()       {}
func (UnsupportedMessage) isMessage() {}

// ParseError reports a body that could not be decoded into a Message.
// Header is populated as far as the envelope could be read.
type ParseError struct {
	Header  Header
	MsgType string
	Reason  string
	Err     error
}

func (e *ParseError) Error() string {
	msg := "wechat: parse message"
	if e.MsgType != "" {
		msg += " (" + e.MsgType + ")"
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

type rawMessage struct {
	XMLName      xml.Name `xml:"xml"`
	ToUserName   string   `xml:"ToUserName"`
	FromUserName string   `xml:"FromUserName"`
	CreateTime   int64    `xml:"CreateTime"`
	MsgType      string   `xml:"MsgType"`
	MsgID        int64    `xml:"MsgId"`
	Content      string   `xml:"Content"`
	PicURL       string   `xml:"PicUrl"`
	MediaID      string   `xml:"MediaId"`
	Format       string   `xml:"Format"`
	Recognition  string   `xml:"Recognition"`
	ThumbMediaID string   `xml:"ThumbMediaId"`
	Title        string   `xml:"Title"`
	Description  string   `xml:"Description"`
	URL          string   `xml:"Url"`
	Event        string   `xml:"Event"`
	EventKey     string   `xml:"EventKey"`
	Ticket       string   `xml:"Ticket"`
}

// ParseMessage decodes a webhook body. Unknown message types decode to
// UnsupportedMessage; a known type missing a required field is a
// *ParseError.
func ParseMessage(body []byte) (Message, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &ParseError{Reason: "empty body"}
	}

	var raw rawMessage
	if err := xml.Unmarshal(body, &raw); err != nil {
		return nil, &ParseError{Reason: "malformed xml", Err: err}
	}

	h := Header{
		ToUserName:   strings.TrimSpace(raw.ToUserName),
		FromUserName: strings.TrimSpace(raw.FromUserName),
		CreateTime:   raw.CreateTime,
		MsgID:        raw.MsgID,
	}
	msgType := strings.ToLower(strings.TrimSpace(raw.MsgType))

	fail := func(reason string) (Message, error) {
		return nil, &ParseError{Header: h, MsgType: msgType, Reason: reason}
	}

	if h.FromUserName == "" {
		return fail("missing FromUserName")
	}
	if msgType == "" {
		return fail("missing MsgType")
	}

	switch MessageType(msgType) {
	case TypeText:
		if raw.Content == "" {
			return fail("missing Content")
		}
		return TextMessage{Header: h, Content: raw.Content}, nil

	case TypeImage:
		if raw.PicURL == "" && raw.MediaID == "" {
			return fail("missing PicUrl and MediaId")
		}
		return ImageMessage{Header: h, PicURL: raw.PicURL, MediaID: raw.MediaID}, nil

	case TypeVoice:
		if raw.MediaID == "" {
			return fail("missing MediaId")
		}
		return VoiceMessage{Header: h, MediaID: raw.MediaID, Format: raw.Format, Recognition: raw.Recognition}, nil

	case TypeVideo, TypeShortVideo:
		if raw.MediaID == "" {
			return fail("missing MediaId")
		}
		return VideoMessage{
			Header:       h,
			MediaID:      raw.MediaID,
			ThumbMediaID: raw.ThumbMediaID,
			Short:        MessageType(msgType) == TypeShortVideo,
		}, nil

	case TypeLink:
		if raw.URL == "" {
			return fail("missing Url")
		}
		return LinkMessage{Header: h, URL: raw.URL, Title: raw.Title, Description: raw.Description}, nil

	case TypeEvent:
		return parseEvent(h, raw)

	default:
		return UnsupportedMessage{Header: h, RawType: msgType}, nil
	}
}

func parseEvent(h Header, raw rawMessage) (Message, error) {
	event := strings.TrimSpace(raw.Event)
	if event == "" {
		return nil, &ParseError{Header: h, MsgType: string(TypeEvent), Reason: "missing Event"}
	}

	kind := EventKind(strings.ToLower(event))
	switch kind {
	case EventSubscribe, EventUnsubscribe, EventScan:
		return EventMessage{Header: h, Kind: kind, EventKey: raw.EventKey, Ticket: raw.Ticket}, nil
	default:
		return UnsupportedMessage{Header: h, RawType: fmt.Sprintf("event:%s", event)}, nil
	}
}
