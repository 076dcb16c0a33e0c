package market_hours

// NYSE closure calendar. Dates are keyed YYYY-MM-DD in Eastern time.
// maxCalendarYear marks how far the table reaches; beyond it the service
// falls back to treating every weekday as a normal trading day.
const maxCalendarYear = 2026

var marketHolidays = map[string]string{
	// 2024
	"2024-01-01": "New Year's Day",
	"2024-01-15": "Martin Luther King Jr. Day",
	"2024-02-19": "Presidents' Day",
	"2024-03-29": "Good Friday",
	"2024-05-27": "Memorial Day",
	"2024-06-19": "Juneteenth",
	"2024-07-04": "Independence Day",
	"2024-09-02": "Labor Day",
	"2024-11-28": "Thanksgiving Day",
	"2024-12-25": "Christmas Day",

	// 2025
	"2025-01-01": "New Year's Day",
	"2025-01-09": "National Day of Mourning",
	"2025-01-20": "Martin Luther King Jr. Day",
	"2025-02-17": "Presidents' Day",
	"2025-04-18": "Good Friday",
	"2025-05-26": "Memorial Day",
	"2025-06-19": "Juneteenth",
	"2025-07-04": "Independence Day",
	"2025-09-01": "Labor Day",
	"2025-11-27": "Thanksgiving Day",
	"2025-12-25": "Christmas Day",

	// 2026
	"2026-01-01": "New Year's Day",
	"2026-01-19": "Martin Luther King Jr. Day",
	"2026-02-16": "Presidents' Day",
	"2026-04-03": "Good Friday",
	"2026-05-25": "Memorial Day",
	"2026-06-19": "Juneteenth",
	"2026-07-03": "Independence Day (observed)",
	"2026-09-07": "Labor Day",
	"2026-11-26": "Thanksgiving Day",
	"2026-12-25": "Christmas Day",
}

// earlyCloses are 13:00 Eastern close days, typically the day after
// Thanksgiving and the eves of July 4th and Christmas.
var earlyCloses = map[string]bool{
	"2024-07-03": true,
	"2024-11-29": true,
	"2024-12-24": true,

	"2025-07-03": true,
	"2025-11-28": true,
	"2025-12-24": true,

	"2026-11-27": true,
	"2026-12-24": true,
}
