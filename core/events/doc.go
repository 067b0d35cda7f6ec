// Package events defines the outbound event contract between the turn
// response agent and the downstream speech synthesis consumer.
//
// Event kinds are grouped by receiver-facing namespaces:
//
//   - assistant_message.*
//   - turn_state.*
//
// assistant_message events
//
//   - PlainMessage (assistant_message.plain): complete reply as plain text,
//     emitted once per turn when the synthesizer needs a whole utterance and
//     markup mode is off.
//   - MarkupMessage (assistant_message.markup): complete reply as synthesis
//     markup with a plain-text fallback, emitted once per turn when markup
//     mode is on.
//   - TokenFragment (assistant_message.token): append-only reply fragment for
//     synthesizers that consume incremental text. Fragments concatenate to
//     the full reply.
//
// turn_state events
//
//   - EndOfTurnSignal (turn_state.end_of_turn): terminal, non-interruptible
//     marker emitted at most once, as the last event of a turn that ends the
//     conversation.
package events
