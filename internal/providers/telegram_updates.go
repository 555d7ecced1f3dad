package providers

import (
	"strconv"
	"strings"

	tgmodels "github.com/go-telegram/bot/models"

	"reminder-service/internal/models"
)

// InboundFromUpdate maps a Telegram update onto an inbound chat event.
// It returns false for updates the service does not handle.
//
// "/start" is the first contact with the bot and becomes a follow. Blocking
// the bot arrives as a my_chat_member update with status kicked or left.
func InboundFromUpdate(update *tgmodels.Update) (models.InboundEvent, bool) {
	if update == nil {
		return nil, false
	}

	if m := update.MyChatMember; m != nil {
		recipient := strconv.FormatInt(m.Chat.ID, 10)
		switch m.NewChatMember.Type {
		case tgmodels.ChatMemberTypeBanned, tgmodels.ChatMemberTypeLeft:
			return models.UnfollowEvent{Recipient: recipient}, true
		}
		return nil, false
	}

	if msg := update.Message; msg != nil && msg.Text != "" {
		recipient := strconv.FormatInt(msg.Chat.ID, 10)
		if isStartCommand(msg.Text) {
			return models.FollowEvent{Recipient: recipient}, true
		}
		return models.MessageEvent{Recipient: recipient, Text: msg.Text}, true
	}
	return nil, false
}

func isStartCommand(text string) bool {
	cmd := strings.Fields(text)
	if len(cmd) == 0 {
		return false
	}
	// "/start@my_bot" in groups
	name, _, _ := strings.Cut(cmd[0], "@")
	return name == "/start"
}
