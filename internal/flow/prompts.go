package flow

import (
	"github.com/CalmCompanion/CalmPipe/internal/models"
	"github.com/CalmCompanion/CalmPipe/internal/normalize"
)

// System prompts for the generation kinds.
const (
	encouragementSystem = "You are a warm, non-clinical mental health companion. " +
		"Be brief (2-4 sentences), reflect the user's feeling, and offer a gentle, practical step. " +
		"Avoid diagnosing or making medical claims."

	conversationSystem = "You are a warm, non-clinical companion. Respond in 1-2 short sentences. " +
		"Reflect/validate the user's feeling, then ask ONE open, gentle question to learn more. " +
		"No advice, no coping steps, no lists, no emojis."

	rewriteSystem = encouragementSystem +
		" Rewrite the assistant reply to obey all rules: at most 45 words, 2 short sentences max, " +
		"exactly ONE safe do-now step, no lists, no emojis."
)

// Fixed replies that never involve generation. The first turn and identity
// utterances always get canned text and never a step.
const (
	welcomeMessage = "It's nice to meet you. I'm here to support you, not to diagnose. " +
		"What's on your mind right now - maybe just a word or two?"

	askNameReply = "I'm your companion here - no personal name, just here to support you. " +
		"What's on your mind?"

	giveNameReply = "I appreciate the thought. I don't use a personal name, " +
		"but I'm here with you. What feels most present for you right now?"
)

// cannedReply returns the fixed reply for identity utterances and for
// low-signal first turns, or ok=false when the turn should go through
// generation. A first turn that already carries an advice signal is never
// greeted away; it goes through the gate on its own merits. Smalltalk is
// deliberately not canned; it flows through the conversation branch so the
// reply reflects what the user actually said.
func cannedReply(userText string, history []models.Message, adviceSignal bool) (string, bool) {
	if len(history) == 0 && !adviceSignal {
		return welcomeMessage, true
	}
	switch classifyIntent(normalize.Normalize(userText)) {
	case intentGiveName:
		return giveNameReply, true
	case intentAskName:
		return askNameReply, true
	}
	return "", false
}
