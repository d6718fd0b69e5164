package dataset

import (
	"strconv"

	"github.com/jackc/pgx/v5/pgtype"
)

// NameUsers is the user registry dataset
const NameUsers = "users"

// User is a cleaned registry row. It is a versioned dimension keyed by
// UserID.
type User struct {
	UserID     int64
	Age        pgtype.Int4
	Gender     pgtype.Text
	Occupation pgtype.Text
	ZipCode    pgtype.Text
}

// UserSpec describes the user registry
func UserSpec() Spec[User] {
	return Spec[User]{
		Name:     NameUsers,
		Columns:  []string{"user_id", "age", "gender", "occupation", "zip_code"},
		Required: []string{"user_id"},
		Clean: map[string]func(string) string{
			"user_id":    trim,
			"age":        trim,
			"gender":     upper,
			"occupation": title,
			"zip_code":   trim,
		},
		Coerce: func(row Row) (User, error) {
			id, err := requireInt(row, "user_id")
			if err != nil {
				return User{}, err
			}

			return User{
				UserID:     id,
				Age:        optionalInt4(row, "age"),
				Gender:     row.Get("gender"),
				Occupation: row.Get("occupation"),
				ZipCode:    row.Get("zip_code"),
			}, nil
		},
		Encode: func(u User) []string {
			return []string{
				strconv.FormatInt(u.UserID, 10),
				formatInt4(u.Age),
				Null(u.Gender),
				Null(u.Occupation),
				Null(u.ZipCode),
			}
		},
		Values: func(u User) []any {
			return []any{u.UserID, u.Age, u.Gender, u.Occupation, u.ZipCode}
		},
		Key: func(u User) string {
			return strconv.FormatInt(u.UserID, 10)
		},
		Less: func(a, b User) bool {
			return a.UserID < b.UserID
		},
	}
}
