// internal/llm/dispatcher.go
package llm

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/Corphon/LoreChat/internal/errors"
	"github.com/Corphon/LoreChat/internal/utils"
)

// ErrAborted 调用被新的调用取代或被 Abort 取消
var ErrAborted = stderrors.New("請求已中止")

// Dispatcher 发送请求并解析响应。
// 同一时间只跟踪一个进行中的调用：新调用会取消上一个，Abort 取消当前调用。
// 不重试，也不设置超时。
type Dispatcher struct {
	client *http.Client

	mu     sync.Mutex
	cancel context.CancelFunc
	seq    uint64

	logger *utils.Logger
}

// NewDispatcher client 为 nil 时使用无超时的默认客户端
func NewDispatcher(client *http.Client) *Dispatcher {
	if client == nil {
		client = &http.Client{}
	}
	return &Dispatcher{
		client: client,
		logger: utils.GetLogger().With("llm", nil),
	}
}

// begin 登记新的取消句柄并取消上一个调用
func (d *Dispatcher) begin(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	d.cancel = cancel
	d.seq++
	mine := d.seq
	d.mu.Unlock()

	return ctx, func() {
		d.mu.Lock()
		if d.seq == mine {
			d.cancel = nil
		}
		d.mu.Unlock()
		cancel()
	}
}

// Abort 取消进行中的调用，没有调用时返回 false
func (d *Dispatcher) Abort() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel == nil {
		return false
	}
	d.cancel()
	d.cancel = nil
	return true
}

// InFlight 是否有进行中的调用
func (d *Dispatcher) InFlight() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancel != nil
}

// Call 发送一次聊天请求，返回可展示的文本。
// 非 2xx 返回 transport 错误（API 錯誤 (状态码): 响应体）。
func (d *Dispatcher) Call(ctx context.Context, p Provider, payload Payload, params RequestParams) (string, error) {
	ctx, done := d.begin(ctx)
	defer done()

	req, err := p.BuildRequest(ctx, payload, params)
	if err != nil {
		return "", errors.NewProcessingError("构造请求失败", err)
	}

	status, body, err := d.do(ctx, req)
	if err != nil {
		return "", err
	}
	if status < 200 || status > 299 {
		d.logger.Warn("上游返回错误", map[string]interface{}{
			"provider": p.GetName(),
			"status":   status,
		})
		return "", errors.NewTransportError(fmt.Sprintf("API 錯誤 (%d): %s", status, body), status, string(body))
	}

	return safeParse(p, body), nil
}

// TestConnection 发送最小请求验证金钥，2xx 即成功；不占用取消句柄
func (d *Dispatcher) TestConnection(ctx context.Context, p Provider, apiKey, model string) (bool, error) {
	req, err := p.BuildTestRequest(ctx, apiKey, model)
	if err != nil {
		if stderrors.Is(err, ErrTestNotSupported) {
			return false, errors.NewValidationError(err.Error(), err)
		}
		return false, errors.NewProcessingError("构造请求失败", err)
	}

	status, body, err := d.do(ctx, req)
	if err != nil {
		return false, err
	}
	if status < 200 || status > 299 {
		return false, errors.NewTransportError(fmt.Sprintf("(%d) %s", status, body), status, string(body))
	}
	return true, nil
}

func (d *Dispatcher) do(ctx context.Context, req *http.Request) (int, []byte, error) {
	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			e := errors.NewTransportError(ErrAborted.Error(), 0, "")
			e.Err = stderrors.Join(ErrAborted, ctx.Err())
			return 0, nil, e
		}
		e := errors.NewTransportError("網路錯誤", 0, "")
		e.Err = err
		return 0, nil, e
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			e := errors.NewTransportError(ErrAborted.Error(), resp.StatusCode, "")
			e.Err = stderrors.Join(ErrAborted, ctx.Err())
			return 0, nil, e
		}
		e := errors.NewTransportError("讀取回應失敗", resp.StatusCode, "")
		e.Err = err
		return 0, nil, e
	}
	return resp.StatusCode, body, nil
}

// safeParse 解析中的 panic 也降级为格式错误提示
func safeParse(p Provider, body []byte) (text string) {
	defer func() {
		if r := recover(); r != nil {
			text = WarnMalformed
		}
	}()
	return p.ParseResponse(body)
}
