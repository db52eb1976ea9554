// Package commands implements the chat commands of the bot: calendar setup,
// event management, permissions and export. Handlers write to the store first
// and then ask the scheduling engine to bring timers in line.
package commands
