// Package changelogbot implements a Discord bot that answers questions with
// an AI provider and posts formatted changelog announcements to channels.
//
// The bot registers two slash commands:
//
//   - /ask: Sends a question to the configured AI provider, optionally
//     grounded with web search results, and replies with an embed.
//   - /changelog: Shows a modal collecting a title, project/version, a change
//     list and an optional footer, then posts the composed announcement to
//     the selected channel, optionally pinging a role.
//
// Key components of the package include:
//
//   - Bot: Owns configuration, loggers, the Discord session and the HTTP
//     servers, and drives startup and shutdown.
//   - CommandRegistry: The fixed set of slash command descriptors.
//   - Router: Classifies interaction events and routes them to handlers.
//   - AIService: Answers questions with a delegated-search (Gemini) or
//     manual-search (OpenAI-compatible, Groq by default) strategy.
//   - ChangelogComposer: Formats and delivers changelog announcements.
//   - ResolveMentions: Rewrites @username tokens into member mentions.
//
// Interactions can be received via the Discord gateway, or via an HTTP
// interactions endpoint when the webhook server is enabled.
package changelogbot
