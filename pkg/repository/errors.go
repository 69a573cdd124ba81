package repository

import "errors"

var (
	// ErrNotFound は対象のレコードが存在しない場合のエラー
	ErrNotFound = errors.New("record not found")

	// ErrStorage はデータストアの読み書きに失敗した場合のエラー
	ErrStorage = errors.New("storage failure")
)
