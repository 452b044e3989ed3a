// Package chat contains the live relay between Twitch chat and browser clients.
//
// It provides:
//   - TwitchSource: connects to Twitch IRC for a single channel (anonymously
//     unless bot credentials are configured) and turns the connection into a
//     stable stream of Signals. Callbacks are registered once; the same IRC
//     client is reused across reconnects.
//   - Classifier: decides whether a chat line is also a question (trigger
//     token or an @mention of the channel).
//   - Relay: consumes Signals sequentially, keeps the recent chat and question
//     history in two bounded stores, appends every line to the day-sharded log
//     and broadcasts newMessage/newQuestion envelopes to subscribers. New
//     subscribers receive the buffered history before any live event.
//
// Nothing missed while the upstream connection is down is recovered; the
// relay resumes with whatever Twitch delivers after reconnecting.
package chat
