package repository

import "errors"

var (
	ErrNotFound = errors.New("not found")

	//一意制約違反（冪等キー・クーポンコード・メールなど）
	ErrDuplicate = errors.New("duplicate")
)
