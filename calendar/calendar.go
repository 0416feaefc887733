// Package calendar は月単位のカレンダー表示用データを組み立てます。
// 状態は持たず、台帳の行と暦計算から表示用の構造を作るだけです。
package calendar

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Direction は前月・翌月のどちらへ移動するかを表します
type Direction int

const (
	Previous Direction = -1
	Next     Direction = 1
)

// ErrInvalidYearMonth は年または月の指定が不正な場合に返されます
var ErrInvalidYearMonth = errors.New("invalid year or month")

// YearMonth は年と月の組です
type YearMonth struct {
	Year  int
	Month int
}

// Month はカレンダー画面のヘッダ情報です
type Month struct {
	Year  int
	Month int
	Name  string
	Prev  YearMonth
	Next  YearMonth
}

// Day は1日分の表示データです
type Day struct {
	Day     int
	Weekday string
	Date    string
	Choice  string
}

// AdminRow は管理者画面の1ユーザー分の行です。Cells は1日目から順に並びます
type AdminRow struct {
	Username string
	Cells    []string
}

// AdminMonth は管理者画面の月間集計です
type AdminMonth struct {
	Days []int
	Rows []AdminRow
}

// DaysInMonth はグレゴリオ暦でのその月の日数を返します
func DaysInMonth(year, month int) int {
	// 翌月の0日目は当月の末日
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// AdjacentMonth は前月または翌月の年月を返します。年をまたぐ場合も正しく繰り上げ・繰り下げます
func AdjacentMonth(year, month int, dir Direction) (int, int) {
	m := month + int(dir)
	switch {
	case m < 1:
		return year - 1, 12
	case m > 12:
		return year + 1, 1
	}
	return year, m
}

// DateKey は YYYY-MM-DD 形式の日付文字列を返します
func DateKey(year, month, day int) string {
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day)
}

// MonthRange はその月の初日と末日の日付文字列を返します
func MonthRange(year, month int) (string, string) {
	return DateKey(year, month, 1), DateKey(year, month, DaysInMonth(year, month))
}

// NewMonth はナビゲーション付きのヘッダ情報を作成します
func NewMonth(year, month int) Month {
	py, pm := AdjacentMonth(year, month, Previous)
	ny, nm := AdjacentMonth(year, month, Next)
	return Month{
		Year:  year,
		Month: month,
		Name:  time.Month(month).String(),
		Prev:  YearMonth{Year: py, Month: pm},
		Next:  YearMonth{Year: ny, Month: nm},
	}
}

// ParseYearMonth はクエリ文字列の年と月を解釈します。
// 空の場合は today の年月を使います
func ParseYearMonth(yearStr, monthStr string, today time.Time) (int, int, error) {
	year, month := today.Year(), int(today.Month())

	if s := strings.TrimSpace(yearStr); s != "" {
		y, err := strconv.Atoi(s)
		if err != nil || y < 1 || y > 9999 {
			return 0, 0, fmt.Errorf("%w: year %q", ErrInvalidYearMonth, yearStr)
		}
		year = y
	}
	if s := strings.TrimSpace(monthStr); s != "" {
		m, err := strconv.Atoi(s)
		if err != nil || m < 1 || m > 12 {
			return 0, 0, fmt.Errorf("%w: month %q", ErrInvalidYearMonth, monthStr)
		}
		month = m
	}

	return year, month, nil
}

// ProjectUserMonth は1ユーザーの月間カレンダーを作成します。
// entries は日付文字列から選択メニューへのマップで、存在しない日は空文字になります
func ProjectUserMonth(year, month int, entries map[string]string) []Day {
	n := DaysInMonth(year, month)
	days := make([]Day, 0, n)
	for d := 1; d <= n; d++ {
		date := time.Date(year, time.Month(month), d, 0, 0, 0, 0, time.UTC)
		key := DateKey(year, month, d)
		days = append(days, Day{
			Day:     d,
			Weekday: date.Weekday().String()[:3],
			Date:    key,
			Choice:  entries[key],
		})
	}
	return days
}

// ProjectAdminMonth は全ユーザーの月間集計を作成します。
// users に含まれるユーザーは選択が無くても行を持ちます。
// 台帳にだけ存在するユーザーはその後ろに名前順で追加されます
func ProjectAdminMonth(year, month int, users []string, data map[string]map[int]string) AdminMonth {
	n := DaysInMonth(year, month)
	days := make([]int, n)
	for i := range days {
		days[i] = i + 1
	}

	seen := make(map[string]bool, len(users))
	order := make([]string, 0, len(users)+len(data))
	for _, u := range users {
		if seen[u] {
			continue
		}
		seen[u] = true
		order = append(order, u)
	}

	var extra []string
	for u := range data {
		if !seen[u] {
			extra = append(extra, u)
		}
	}
	sort.Strings(extra)
	order = append(order, extra...)

	rows := make([]AdminRow, 0, len(order))
	for _, u := range order {
		cells := make([]string, n)
		for day, choice := range data[u] {
			if day >= 1 && day <= n {
				cells[day-1] = choice
			}
		}
		rows = append(rows, AdminRow{Username: u, Cells: cells})
	}

	return AdminMonth{Days: days, Rows: rows}
}
