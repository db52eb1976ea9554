// Package tgui provides small Telegram UI helpers:
//   - HTML escaping and inline formatting for ParseMode="HTML"
//   - A message builder with sensible defaults
//   - Pagination for long lists
package tgui
