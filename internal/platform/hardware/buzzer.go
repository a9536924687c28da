package hardware

import (
	"sync"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"CREDIT-backend/internal/platform/db"
)

// Buzzer はArduinoブザーへのシリアルリンク。
// コマンドは "SUCCESS" / "FAILURE" の1行テキスト。パターン再生はArduino側が行う。
// 送信はfire-and-forgetで、失敗しても呼び出し元には影響しない。
type Buzzer struct {
	cfg db.HardwareConfig
	log *zap.Logger

	mu   sync.Mutex
	port serial.Port
}

func NewBuzzer(cfg db.HardwareConfig, log *zap.Logger) *Buzzer {
	return &Buzzer{cfg: cfg, log: log}
}

// Success: 成功パターン（2回のパルス）
func (b *Buzzer) Success() { go b.send("SUCCESS") }

// Failure: 失敗パターン（3回の短いパルス）
func (b *Buzzer) Failure() { go b.send("FAILURE") }

func (b *Buzzer) send(command string) {
	if !b.cfg.Enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.port == nil {
		if !b.connectLocked() {
			return
		}
	}

	if _, err := b.port.Write([]byte(command + "\n")); err != nil {
		b.log.Warn("ブザーコマンド送信失敗", zap.String("command", command), zap.Error(err))
		_ = b.port.Close()
		b.port = nil
		return
	}
	b.log.Debug("ブザーコマンド送信", zap.String("command", command))
}

func (b *Buzzer) connectLocked() bool {
	if b.cfg.Port == "" {
		return false
	}
	mode := &serial.Mode{BaudRate: b.cfg.Baud}
	port, err := serial.Open(b.cfg.Port, mode)
	if err != nil {
		b.log.Warn("シリアルポート接続失敗", zap.String("port", b.cfg.Port), zap.Error(err))
		return false
	}
	b.port = port
	b.log.Info("シリアルポート接続", zap.String("port", b.cfg.Port), zap.Int("baud", b.cfg.Baud))
	return true
}

func (b *Buzzer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.port != nil {
		_ = b.port.Close()
		b.port = nil
	}
}
