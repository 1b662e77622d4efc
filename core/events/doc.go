// Package events defines the typed event contract between the voice
// controllers and the conversation orchestrator.
//
// Event kinds are grouped by receiver-facing namespaces:
//
//   - user_input.*
//   - assistant_response.*
//   - assistant_speech.*
//   - turn_state.*
//   - conversation.*
//
// Semantics used across the package:
//
//   - Segment: append-only text piece emitted in stream order.
//   - Updated: mutable point-in-time snapshot that can change over time.
//   - Final: terminal immutable text for the current stream.
//   - Started/Ended: lifecycle boundaries of a session.
//   - Failed: the session ended with an error that should be surfaced.
//
// user_input events
//
//   - UserListeningStarted (user_input.listening_started): the recognition
//     session is live.
//   - UserTranscriptInterimUpdated (user_input.transcript_interim_updated):
//     mutable interim text of the current utterance.
//   - UserTranscriptSegment (user_input.transcript_segment): finalized,
//     append-only transcript segment.
//   - UserListeningEnded (user_input.listening_ended): the recognition session
//     ended; carries the accumulated final transcript (possibly empty).
//   - UserInputFailed (user_input.failed): the recognition engine reported an
//     error, the session was torn down.
//
// assistant_response events
//
//   - AssistantResponseStarted (assistant_response.started): a request was
//     sent to the chat endpoint.
//   - AssistantResponseSegment (assistant_response.segment): streamed
//     response text fragment.
//   - AssistantResponseFinal (assistant_response.final): response stream is
//     complete; carries the assembled text.
//   - AssistantResponseFailed (assistant_response.failed): transport failure.
//
// assistant_speech events
//
//   - AssistantSpeechStarted (assistant_speech.started): the synthesis engine
//     started an utterance.
//   - AssistantSpeechEnded (assistant_speech.ended): the utterance finished,
//     was stopped, or failed.
//   - AssistantSpeechFailed (assistant_speech.failed): a non-benign synthesis
//     error that should be surfaced.
//
// turn_state events
//
//   - TurnStateChanged (turn_state.changed): the orchestrator moved between
//     idle, listening, sending, streaming and speaking.
//
// conversation events
//
//   - MessageAppended (conversation.message_appended): a message was added to
//     the history.
//   - ConversationCleared (conversation.cleared): the history was reset.
package events
