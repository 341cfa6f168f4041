package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentBody(t *testing.T) {
	cases := []struct {
		name string
		c    *Content
		want string
	}{
		{"nil", nil, ""},
		{"text wins", &Content{Text: "hi", ExtendedText: "ext"}, "hi"},
		{"extended", &Content{ExtendedText: "ext"}, "ext"},
		{"image caption", &Content{Media: &Media{Kind: MediaImage, Caption: "pic"}}, "pic"},
		{"video caption", &Content{Media: &Media{Kind: MediaVideo, Caption: "clip"}}, "clip"},
		{"document caption ignored", &Content{Media: &Media{Kind: MediaDocument, Caption: "doc"}}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.c.Body())
		})
	}
}

func TestNormalizeJID(t *testing.T) {
	assert.Equal(t, "254700@s.whatsapp.net", NormalizeJID("254700:12@s.whatsapp.net"))
	assert.Equal(t, "254700@s.whatsapp.net", NormalizeJID("254700@s.whatsapp.net"))
	assert.Equal(t, "status@broadcast", NormalizeJID("status@broadcast"))
	assert.Equal(t, "plain", NormalizeJID("plain"))
}

func TestKeyAuthor(t *testing.T) {
	assert.Equal(t, "p@s", Key{Chat: StatusBroadcast, Participant: "p@s"}.Author())
	assert.Equal(t, "c@s", Key{Chat: "c@s"}.Author())
}

func TestViewOnce(t *testing.T) {
	assert.False(t, InboundEvent{}.ViewOnce())
	assert.False(t, InboundEvent{Content: &Content{Media: &Media{Kind: MediaImage}}}.ViewOnce())
	assert.True(t, InboundEvent{Content: &Content{Media: &Media{Kind: MediaImage, ViewOnce: true}}}.ViewOnce())
}
