package domain

import "strconv"

// Recipient returns the notification group key for an account.
func Recipient(accountID int64) string {
	return strconv.FormatInt(accountID, 10)
}
