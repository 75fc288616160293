package repository

import "time"

// nowFunc 时间源，测试中可替换
var nowFunc = time.Now
