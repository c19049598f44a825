// Package validator provides custom validation functions for Gin's binding engine.
package validator

import (
	"regexp"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"flint/internal/models"
)

// tickerRegex accepts equity tickers (BRK.B, RDS-A) and crypto pairs (BTC-USD, XLM/USD).
var tickerRegex = regexp.MustCompile(`^[A-Za-z0-9]{1,12}([./-][A-Za-z0-9]{1,12})?$`)

// validCurrencies contains the ISO 4217 codes providers report for accounts.
var validCurrencies = map[string]bool{
	"AED": true, "ARS": true, "AUD": true, "BRL": true, "CAD": true,
	"CHF": true, "CLP": true, "CNY": true, "COP": true, "CZK": true,
	"DKK": true, "EUR": true, "GBP": true, "HKD": true, "HUF": true,
	"IDR": true, "ILS": true, "INR": true, "JPY": true, "KRW": true,
	"MXN": true, "MYR": true, "NOK": true, "NZD": true, "PHP": true,
	"PLN": true, "SAR": true, "SEK": true, "SGD": true, "THB": true,
	"TRY": true, "TWD": true, "USD": true, "ZAR": true,
}

// Register registers all custom validators with the Gin binding engine.
func Register() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		registerAll(v)
	}
}

func registerAll(v *validator.Validate) {
	_ = v.RegisterValidation("iso4217", validateISO4217)
	_ = v.RegisterValidation("ticker", validateTicker)
	_ = v.RegisterValidation("provider", validateProvider)
	_ = v.RegisterValidation("order_side", oneOfFold("BUY", "SELL"))
	_ = v.RegisterValidation("order_type", oneOfFold("Market", "Limit", "Stop", "StopLimit"))
	_ = v.RegisterValidation("time_in_force", oneOfFold("Day", "GTC", "FOK", "IOC"))
	_ = v.RegisterValidation("goal_type", validateGoalType)
	_ = v.RegisterValidation("goal_status", validateGoalStatus)
}

func validateISO4217(fl validator.FieldLevel) bool {
	return validCurrencies[strings.ToUpper(fl.Field().String())]
}

func validateTicker(fl validator.FieldLevel) bool {
	return tickerRegex.MatchString(fl.Field().String())
}

func validateProvider(fl validator.FieldLevel) bool {
	return models.Provider(fl.Field().String()).Valid()
}

// oneOfFold matches any of values ignoring case.
func oneOfFold(values ...string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		got := fl.Field().String()
		for _, v := range values {
			if strings.EqualFold(got, v) {
				return true
			}
		}
		return false
	}
}

func validateGoalType(fl validator.FieldLevel) bool {
	switch models.GoalType(fl.Field().String()) {
	case models.GoalTypeSavings, models.GoalTypeInvestment, models.GoalTypeDebtPayoff,
		models.GoalTypeEmergencyFund, models.GoalTypeRetirement, models.GoalTypeCustom:
		return true
	}
	return false
}

func validateGoalStatus(fl validator.FieldLevel) bool {
	switch models.GoalStatus(fl.Field().String()) {
	case models.GoalStatusActive, models.GoalStatusCompleted, models.GoalStatusPaused:
		return true
	}
	return false
}
