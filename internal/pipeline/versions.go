package pipeline

import (
	"sync"

	"github.com/google/uuid"
)

// versionTable 按路径维护当前运行令牌
// 每次运行开始时取得新令牌并使同文件的旧令牌失效，
// 旧运行在提交前发现令牌过期即放弃写入
type versionTable struct {
	mu     sync.Mutex
	tokens map[string]string
}

func newVersionTable() *versionTable {
	return &versionTable{tokens: make(map[string]string)}
}

// Begin 为路径签发新的运行令牌，取代之前的令牌
func (v *versionTable) Begin(path string) string {
	v.mu.Lock()
	defer v.mu.Unlock()

	token := uuid.New().String()
	v.tokens[path] = token
	return token
}

// IsCurrent 判断令牌是否仍是该路径的当前令牌
func (v *versionTable) IsCurrent(path, token string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.tokens[path] == token
}

// Forget 清除路径的令牌记录
func (v *versionTable) Forget(path string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.tokens, path)
}
