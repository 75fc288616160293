package logger

import (
	"go.uber.org/zap"
)

var sugar *zap.SugaredLogger

func init() {
	// 未显式 Init 时（如单元测试）也能直接使用
	l, _ := zap.NewProduction()
	sugar = l.Sugar()
}

// Init 按运行模式初始化全局日志器
func Init(debug bool) {
	var (
		l   *zap.Logger
		err error
	)
	if debug {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	sugar = l.Sugar()
}

// L 获取全局 SugaredLogger
func L() *zap.SugaredLogger {
	return sugar
}

// Sync 进程退出前冲刷缓冲
func Sync() {
	_ = sugar.Sync()
}
