package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供路由分类/缓存代数/命中状态字段，供拦截器请求日志复用。
func RequestFields(route, generation, path string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"route":      route,
		"generation": generation,
		"path":       path,
		"cache_hit":  cacheHit,
	}
}

// StoreFields 提供持久化状态 key 字段，供存储层日志复用。
func StoreFields(action, key string) logrus.Fields {
	return logrus.Fields{
		"action": action,
		"key":    key,
	}
}
