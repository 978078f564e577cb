package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Alias1177/CoinDash/internal/features"
	"github.com/Alias1177/CoinDash/internal/market"
)

// Callback data prefixes and menu labels.
const (
	coinPrefix    = "coin_"
	windowPrefix  = "window_"
	predictPrefix = "predict_"
	mainMenu      = "main_menu"

	labelCoin        = "Select Coin"
	labelWindow      = "Select Window"
	labelHistory     = "History"
	labelMetrics     = "Metrics"
	labelRefresh     = "Refresh"
	labelPredict     = "Predict"
	labelPredictions = "Predictions"
	labelPanels      = "Panels"
)

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(labelCoin),
			tgbotapi.NewKeyboardButton(labelWindow),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(labelHistory),
			tgbotapi.NewKeyboardButton(labelMetrics),
			tgbotapi.NewKeyboardButton(labelRefresh),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(labelPredict),
			tgbotapi.NewKeyboardButton(labelPredictions),
			tgbotapi.NewKeyboardButton(labelPanels),
		),
	)
}

// coinKeyboard lays the coins out two per row.
func coinKeyboard(symbols []string) tgbotapi.InlineKeyboardMarkup {
	return gridKeyboard(symbols, coinPrefix, 2)
}

// windowKeyboard lays the windows out three per row.
func windowKeyboard() tgbotapi.InlineKeyboardMarkup {
	return gridKeyboard(market.WindowNames(), windowPrefix, 3)
}

func presetKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Yesterday", predictPrefix+string(features.Yesterday)),
			tgbotapi.NewInlineKeyboardButtonData("Today", predictPrefix+string(features.Today)),
		),
	)
}

func gridKeyboard(items []string, prefix string, perRow int) tgbotapi.InlineKeyboardMarkup {
	var keyboard [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton

	for i, item := range items {
		if i%perRow == 0 && i > 0 {
			keyboard = append(keyboard, row)
			row = []tgbotapi.InlineKeyboardButton{}
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(item, prefix+item))
	}
	if len(row) > 0 {
		keyboard = append(keyboard, row)
	}

	keyboard = append(keyboard, []tgbotapi.InlineKeyboardButton{tgbotapi.NewInlineKeyboardButtonData("Back to Main Menu", mainMenu)})
	return tgbotapi.NewInlineKeyboardMarkup(keyboard...)
}
