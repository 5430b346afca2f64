package browser

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/rpcc"
	"github.com/tidwall/gjson"
)

// Page is one browser tab the backend drives.
type Page interface {
	// Evaluate runs s in the page and returns its JSON result.
	Evaluate(ctx context.Context, s Script) (gjson.Result, error)
	// Navigate loads url and waits for the load event.
	Navigate(ctx context.Context, url string) error
	Close() error
}

// Opener opens a new tab pointed at the chat UI.
type Opener func(ctx context.Context, cfg Config) (Page, error)

// cdpPage 通过 DevTools 协议控制的浏览器标签页
type cdpPage struct {
	dt          *devtool.DevTools
	target      *devtool.Target
	conn        *rpcc.Conn
	client      *cdp.Client
	loadTimeout time.Duration
}

// devToolsClient 重试 DevTools HTTP 端点，浏览器刚启动时端点可能尚未就绪
func devToolsClient() *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = nil
	return retryClient.StandardClient()
}

// OpenDevTools 在 DevTools 端点上新建标签页并打开聊天页面
func OpenDevTools(ctx context.Context, cfg Config) (Page, error) {
	dt := devtool.New(cfg.DevToolsURL, devtool.WithClient(devToolsClient()))
	target, err := dt.CreateURL(ctx, "about:blank")
	if err != nil {
		return nil, fmt.Errorf("create tab: %w", err)
	}

	conn, err := rpcc.DialContext(ctx, target.WebSocketDebuggerURL)
	if err != nil {
		_ = dt.Close(context.Background(), target)
		return nil, fmt.Errorf("connect to tab: %w", err)
	}

	p := &cdpPage{
		dt:          dt,
		target:      target,
		conn:        conn,
		client:      cdp.NewClient(conn),
		loadTimeout: cfg.LoadTimeout,
	}

	if err := p.client.Page.Enable(ctx); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("enable page domain: %w", err)
	}
	if err := p.Navigate(ctx, cfg.ChatURL); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

func (p *cdpPage) Navigate(ctx context.Context, url string) error {
	if p.loadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.loadTimeout)
		defer cancel()
	}

	loaded, err := p.client.Page.LoadEventFired(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to load event: %w", err)
	}
	defer loaded.Close()

	reply, err := p.client.Page.Navigate(ctx, page.NewNavigateArgs(url))
	if err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	if reply.ErrorText != nil && *reply.ErrorText != "" {
		return fmt.Errorf("navigate to %s: %s", url, *reply.ErrorText)
	}

	if _, err := loaded.Recv(); err != nil {
		return fmt.Errorf("wait for %s to load: %w", url, err)
	}
	return nil
}

func (p *cdpPage) Evaluate(ctx context.Context, s Script) (gjson.Result, error) {
	args := runtime.NewEvaluateArgs(s.Expression()).
		SetReturnByValue(true).
		SetAwaitPromise(true)

	reply, err := p.client.Runtime.Evaluate(ctx, args)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("evaluate %s: %w", s.Name, err)
	}
	if ex := reply.ExceptionDetails; ex != nil {
		msg := ex.Text
		if ex.Exception != nil && ex.Exception.Description != nil {
			msg = strings.TrimSpace(msg + " " + *ex.Exception.Description)
		}
		return gjson.Result{}, fmt.Errorf("evaluate %s: %s", s.Name, msg)
	}
	return gjson.ParseBytes(reply.Result.Value), nil
}

// Close 断开连接并关闭标签页
func (p *cdpPage) Close() error {
	connErr := p.conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.dt.Close(ctx, p.target); err != nil {
		return fmt.Errorf("close tab: %w", err)
	}
	return connErr
}
