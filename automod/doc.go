// Auto-moderation for cross-channel duplicate message spam.
//
// Sub-packages cooperate as a pipeline. `automod/consumer` reads message events off the chat gateway. `automod/engine` inserts each one into a time-bounded window (`automod/window`), counts equivalent messages by the same author across distinct channels, and maps that count through a configurable policy into moderation actions. Triggered decisions are executed asynchronously by the engine's dispatcher against the chat platform (see the `discord` package) and any configured notification sinks. `automod/actionstore` optionally remembers recently actioned authors, to suppress repeat moderation.
//
// The window and actionstore have in-process implementations, and redis-backed ones for state shared between instances.
//
// See `cmd/robot` for a daemon built on these packages.
package automod
