package wechat

import (
	"encoding/xml"
	"fmt"
	"time"
)

// Ack is the body the platform accepts as "received, no reply".
const Ack = "success"

// Composer builds the passive reply returned to the platform.
type Composer interface {
	Compose(toUser, fromUser, content string) ([]byte, error)
}

type cdata struct {
	Value string `xml:",cdata"`
}

type textReply struct {
	XMLName      xml.Name `xml:"xml"`
	ToUserName   cdata    `xml:"ToUserName"`
	FromUserName cdata    `xml:"FromUserName"`
	CreateTime   int64    `xml:"CreateTime"`
	MsgType      cdata    `xml:"MsgType"`
	Content      cdata    `xml:"Content"`
}

// ReplyComposer renders text replies stamped with the current Unix time.
type ReplyComposer struct {
	now func() time.Time
}

func NewReplyComposer() *ReplyComposer {
	return &ReplyComposer{now: time.Now}
}

// NewReplyComposerWithClock is used by tests that need a fixed CreateTime.
func NewReplyComposerWithClock(now func() time.Time) *ReplyComposer {
	return &ReplyComposer{now: now}
}

// Compose renders a MsgType=text reply from fromUser (the official
// account) to toUser (the sender's open id).
func (c *ReplyComposer) Compose(toUser, fromUser, content string) ([]byte, error) {
	reply := textReply{
		ToUserName:   cdata{toUser},
		FromUserName: cdata{fromUser},
		CreateTime:   c.now().Unix(),
		MsgType:      cdata{string(TypeText)},
		Content:      cdata{content},
	}

	out, err := xml.Marshal(reply)
	if err != nil {
		return nil, fmt.Errorf("wechat: compose reply: %w", err)
	}
	return out, nil
}
