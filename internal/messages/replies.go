package messages

import (
	"fmt"
	"strings"

	"reminder-service/internal/models"
)

const (
	Welcome = "友だち追加ありがとうございます！🎉\n\n" +
		"connpassのイベントリマインダーです。\n" +
		"「登録」と送信するとリマインダーを開始します。\n" +
		"使い方は「ヘルプ」と送信してください。"

	Registered = "登録が完了しました！✅\n\n" +
		"イベントの1日前と3時間前にリマインダーをお送りします。\n" +
		"現在の設定は「設定」と送信すると確認できます。"

	AlreadyRegistered = "すでに登録済みです。\n現在の設定は「設定」と送信すると確認できます。"

	Reenabled = "リマインダーを再開しました！✅\n現在の設定は「設定」と送信すると確認できます。"

	RegistrationFailed = "登録に失敗しました。しばらくしてから再度お試しください。"

	NotRegistered = "まだ登録されていません。\n「登録」と送信して登録してください。"

	Help = "📖 使い方\n\n" +
		"・登録 / register : リマインダーを開始します\n" +
		"・設定 / settings : 現在の設定を表示します\n" +
		"・ヘルプ / help : この説明を表示します\n\n" +
		"設定の変更はWebインターフェースから行えます。"

	UnknownCommand = "コマンドが認識できませんでした。\n「ヘルプ」と送信すると使い方を確認できます。"
)

// Settings describes a subscriber's reminder configuration.
func Settings(sub models.Subscriber) string {
	var b strings.Builder
	b.WriteString("⚙️ 現在の設定\n\n")
	status := "無効"
	if sub.ReminderEnabled {
		status = "有効"
	}
	fmt.Fprintf(&b, "リマインダー: %s\n", status)
	b.WriteString("通知タイミング:\n")
	if len(sub.ReminderRules) == 0 {
		b.WriteString("・なし\n")
	}
	for _, rule := range sub.ReminderRules {
		fmt.Fprintf(&b, "・%s\n", LeadTime(rule))
	}
	b.WriteString("\n設定の変更はWebインターフェースから行えます。")
	return b.String()
}

// LeadTime renders a rule like "1日前".
func LeadTime(rule models.ReminderRule) string {
	switch rule.Unit {
	case models.UnitDays:
		return fmt.Sprintf("%d日前", rule.Value)
	case models.UnitHours:
		return fmt.Sprintf("%d時間前", rule.Value)
	case models.UnitMinutes:
		return fmt.Sprintf("%d分前", rule.Value)
	default:
		return fmt.Sprintf("%d%s前", rule.Value, rule.Unit)
	}
}
