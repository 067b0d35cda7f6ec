package markup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlainTextStripsEnvelope(t *testing.T) {
	ssml := `<speak xmlns="https://www.w3.org/2001/10/synthesis" version="1.0" xml:lang="en-US"><voice name="en-US-SteffanNeural"><mstts:silence value="500ms" type="Tailing-exact" /><prosody pitch="0%" rate="15%">You can park in the Garage for free.</prosody></voice></speak>`

	text, err := PlainText(ssml)
	require.NoError(t, err)
	assert.Equal(t, "You can park in the Garage for free.", text)
}

func TestPlainTextKeepsPlainInput(t *testing.T) {
	text, err := PlainText("  Where can   I park?\n")
	require.NoError(t, err)
	assert.Equal(t, "Where can I park?", text)
}

func TestWrapRoundTripsThroughPlainText(t *testing.T) {
	wrapped := Wrap("Fish & chips <now>", WithLanguage("de-DE"), WithVoice("de-DE-ConradNeural"))

	assert.True(t, IsMarkup(wrapped))
	assert.Contains(t, wrapped, `xml:lang="de-DE"`)
	assert.Contains(t, wrapped, `<voice name="de-DE-ConradNeural">`)

	text, err := PlainText(wrapped)
	require.NoError(t, err)
	assert.Equal(t, "Fish & chips <now>", text)
}

func TestWrapWithoutTrailingSilence(t *testing.T) {
	wrapped := Wrap("Hi", WithTrailingSilence(""))
	assert.NotContains(t, wrapped, "mstts:silence")
}

func TestIsMarkup(t *testing.T) {
	assert.False(t, IsMarkup("I am a bot."))
	assert.True(t, IsMarkup("  <speak>I am a bot.</speak>"))
}
