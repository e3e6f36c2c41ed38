// Package calculator 提供瓦片坐标计算功能
package calculator

import "errors"

var (
	// ErrInvalidCoordinate 经纬度超出墨卡托投影有效范围
	ErrInvalidCoordinate = errors.New("coordinate outside web-mercator domain (|lat| <= 85.0511287798066, |lon| <= 180)")
	// ErrUnknownLocation 无法识别的位置类型
	ErrUnknownLocation = errors.New("unknown location type")
)
