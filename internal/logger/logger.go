// Package logger は logrus のロガーを設定から組み立てる。
package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New は本番ならJSON、それ以外はテキスト形式のロガーを返す。level が不正なら info。
func New(level string, production bool) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)

	if production {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	lv, err := logrus.ParseLevel(level)
	if err != nil {
		lv = logrus.InfoLevel
	}
	l.SetLevel(lv)

	return l
}

// Discard はテスト用の出力しないロガー
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
