package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/SceneChronicle/internal/conversation"
	"github.com/Corphon/SceneChronicle/internal/models"
)

func TestConsolePrintsEvents(t *testing.T) {
	var buf bytes.Buffer
	c := &console{out: &buf, names: map[string]string{"char_eve": "Eve"}}

	user := models.NewUserMessage("hi")
	reply := models.NewCharacterMessage("char_eve", "*waves* Hello.")
	pending := models.Message{Sender: models.SenderCharacter, CharacterID: "char_eve", Kind: models.KindText, State: models.StatePending}
	image := models.Message{Sender: models.SenderSystem, Kind: models.KindImage, State: models.StateFinal, ImageURL: "/images/a.png"}

	for _, m := range []models.Message{user, pending, reply, image} {
		m := m
		c.OnEvent(conversation.Event{Type: conversation.EventMessageAppended, Message: &m})
	}
	c.OnEvent(conversation.Event{Type: conversation.EventMessageRemoved, MessageID: "x"})

	assert.Equal(t, "· Eve is typing...\nEve: *waves* Hello.\n[scene] /images/a.png\n", buf.String())
}

func TestConsoleUnknownCharacterFallsBackToID(t *testing.T) {
	var buf bytes.Buffer
	c := &console{out: &buf, names: map[string]string{}}
	m := models.NewCharacterMessage("char_x", "...")
	c.OnEvent(conversation.Event{Type: conversation.EventMessageAppended, Message: &m})
	assert.Equal(t, "char_x: ...\n", buf.String())
}

func TestPresetsCommand(t *testing.T) {
	var buf bytes.Buffer
	presetsCmd.SetOut(&buf)
	require.NoError(t, presetsCmd.RunE(presetsCmd, nil))

	out := buf.String()
	assert.Contains(t, out, "char_eve")
	assert.Contains(t, out, "scen_eve_hangout")
}
