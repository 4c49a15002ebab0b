package compiler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"ProcessMCP/internal/detect"
	"ProcessMCP/internal/encoding"
	"ProcessMCP/internal/extract"
	"ProcessMCP/internal/protocol"
	"ProcessMCP/internal/risk"
	"ProcessMCP/internal/simulate"
	"ProcessMCP/internal/transport"
	"ProcessMCP/internal/validate"
	"ProcessMCP/pkg/logger"
)

// plan 是编译完成、等待确认或投递的消息。
type plan struct {
	text       string
	handler    protocol.HandlerMetadata
	detection  detect.Result
	params     map[string]any
	isWrite    bool
	assessment risk.Assessment
	strategy   encoding.Strategy
	message    encoding.Message
}

// CompileAndExecute 编译请求并在通过确认闸门后投递消息。
// 除投递失败外，各阶段的问题都以结构化结果返回。
func (c *Compiler) CompileAndExecute(ctx context.Context, targetID, text string, cred transport.Credential, opts Options) Result {
	started := time.Now()
	res := Result{RequestID: uuid.NewString(), TargetID: strings.TrimSpace(targetID)}
	log := c.log.With("request_id", res.RequestID, "target", res.TargetID)
	ctx = logger.WithContext(ctx, log)

	if p, ok := c.compile(ctx, &res, text, opts); ok {
		c.gateAndDispatch(ctx, &res, p, cred, opts)
	}
	c.finish(ctx, &res, text, started)
	return res
}

// Simulate 编译请求并执行模拟，不会投递任何消息。
func (c *Compiler) Simulate(ctx context.Context, targetID, text string, opts Options) Result {
	opts.DryRun = true
	return c.CompileAndExecute(ctx, targetID, text, transport.Credential{}, opts)
}

func (c *Compiler) compile(ctx context.Context, res *Result, text string, opts Options) (*plan, bool) {
	log := logger.FromContext(ctx)
	text = strings.TrimSpace(text)
	if res.TargetID == "" {
		fail(res, &Failure{Kind: KindInvalidRequest, Message: "target id is required"})
		return nil, false
	}
	if text == "" {
		fail(res, &Failure{Kind: KindInvalidRequest, Message: "request text is required"})
		return nil, false
	}
	if opts.Encoding != "" && !opts.Encoding.Valid() {
		fail(res, &Failure{
			Kind:    KindInvalidRequest,
			Message: fmt.Sprintf("unknown encoding strategy %q", opts.Encoding),
			Fixes:   []string{"use tags, data or hybrid"},
		})
		return nil, false
	}

	// 1. 协议发现：失败时退回模板路径。
	stage := time.Now()
	doc := c.discoverer.Discover(ctx, res.TargetID)
	c.metrics.ObserveStage("discovery", time.Since(stage))
	var handlers []protocol.HandlerMetadata
	if doc != nil {
		res.Approach = ApproachProtocol
		handlers = doc.Handlers
	} else {
		res.Approach = ApproachLegacy
		handlers = c.catalog.Query(res.TargetID, text)
	}

	// 2. 识别读写类型。
	stage = time.Now()
	det := c.detector.Detect(text, handlers, opts.Mode)
	c.metrics.ObserveStage("detection", time.Since(stage))
	res.Detection = &det
	res.Confidence = det.Confidence
	if det.OperationType == detect.OperationUnknown {
		fail(res, &Failure{
			Kind:      KindDetectionAmbiguous,
			Message:   "could not tell whether the request reads or changes state",
			Reasoning: det.Reasoning,
			Fixes: []string{
				"start the request with a clear verb such as get, check, transfer or send",
				"set mode to read or write explicitly",
			},
		})
		return nil, false
	}

	handler, ok := c.selectHandler(text, det, handlers)
	if !ok && res.Approach == ApproachLegacy {
		handler, ok = c.syntheticHandler(text)
	}
	if !ok {
		fail(res, &Failure{
			Kind:      KindDetectionAmbiguous,
			Message:   fmt.Sprintf("no handler of %s matches the request", res.TargetID),
			Reasoning: det.Reasoning,
			Fixes:     handlerFixes(handlers),
		})
		return nil, false
	}
	res.HandlerUsed = handler.Action
	log.Debug("handler selected", "handler", handler.Action, "approach", res.Approach, "method", det.Method)

	// 3. 参数提取与校验。
	stage = time.Now()
	params, ok := c.parameters(res, text, handler, opts)
	c.metrics.ObserveStage("extraction", time.Since(stage))
	if !ok {
		return nil, false
	}
	res.ParametersUsed = params

	isWrite := handler.IsWrite || det.OperationType == detect.OperationWrite
	if det.OperationType == detect.OperationValidate {
		isWrite = false
	}

	// 4. 风险评估。
	stage = time.Now()
	assessment := c.risk.Assess(risk.Input{
		Request:          text,
		Parameters:       params,
		Batch:            opts.Batch,
		ConfirmRequested: opts.RequireConfirmation,
	}, det, &handler)
	c.metrics.ObserveStage("risk", time.Since(stage))
	res.Risk = &assessment

	// 5. 编码。
	stage = time.Now()
	strategy := opts.Encoding
	if strategy == "" {
		strategy = c.selector.Select(res.TargetID, handler)
	}
	msg, err := encoding.Build(strategy, handler, params)
	c.metrics.ObserveStage("encoding", time.Since(stage))
	if err != nil {
		fail(res, &Failure{Kind: KindValidationFailed, Message: fmt.Sprintf("parameters cannot be encoded: %v", err)})
		return nil, false
	}
	res.Strategy = strategy
	res.Tags = msg.Tags
	res.Data = msg.Data

	return &plan{
		text:       text,
		handler:    handler,
		detection:  det,
		params:     params,
		isWrite:    isWrite,
		assessment: assessment,
		strategy:   strategy,
		message:    msg,
	}, true
}

// selectHandler 优先采用识别阶段匹配到的处理器，否则按匹配分选择。
func (c *Compiler) selectHandler(text string, det detect.Result, handlers []protocol.HandlerMetadata) (protocol.HandlerMetadata, bool) {
	if det.MatchedHandler != "" {
		for _, h := range handlers {
			if strings.EqualFold(h.Action, det.MatchedHandler) {
				return h, true
			}
		}
	}
	for _, m := range c.detector.MatchHandlers(text, handlers) {
		if m.Score < c.minHandlerScore {
			break
		}
		// 显式模式下跳过读写属性不一致的处理器。
		if det.Method == detect.MethodExplicit && det.OperationType != detect.OperationValidate && m.Handler.IsWrite != det.IsWrite() {
			continue
		}
		return m.Handler, true
	}
	return protocol.HandlerMetadata{}, false
}

// syntheticHandler 根据请求中最强的动词构造处理器，参数来自 Name=value 赋值。
func (c *Compiler) syntheticHandler(text string) (protocol.HandlerMetadata, bool) {
	intent, ok := c.detector.StrongestIntent(text)
	if !ok {
		return protocol.HandlerMetadata{}, false
	}
	action := strings.ToUpper(intent.Verb[:1]) + intent.Verb[1:]
	h := protocol.HandlerMetadata{
		Action:      action,
		Description: "synthesized from the request verb",
		IsWrite:     intent.Kind == detect.OperationWrite,
		Category:    protocol.InferCategory(action, ""),
	}
	assigned := extract.ParseDirectAssignments(text)
	names := make([]string, 0, len(assigned))
	for name := range assigned {
		if !strings.EqualFold(name, "Action") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		h.Parameters = append(h.Parameters, protocol.ParameterSpec{Name: name, Type: protocol.TypeString, Required: true})
	}
	return h, true
}

// parameters 返回显式提供或从文本中提取并校验后的参数。
func (c *Compiler) parameters(res *Result, text string, handler protocol.HandlerMetadata, opts Options) (map[string]any, bool) {
	if len(opts.Parameters) > 0 {
		v := c.validator.Validate(handler, opts.Parameters)
		if !v.Valid {
			fail(res, validationFailure(v))
			return nil, false
		}
		return v.Parameters, true
	}

	ex := c.extractor.ExtractWithRetry(text, handler)
	res.Extraction = &ex
	if ex.Success {
		return ex.Parameters, true
	}

	missing := missingRequired(handler, ex.Parameters)
	if len(missing) == 0 && len(ex.Validation.Errors) > 0 {
		fail(res, validationFailure(ex.Validation))
		return nil, false
	}
	if len(missing) == 0 {
		// 只有可选参数的处理器可以不带参数投递。
		v := c.validator.Validate(handler, ex.Parameters)
		if v.Valid {
			return v.Parameters, true
		}
		fail(res, validationFailure(v))
		return nil, false
	}
	res.Guidance = extract.Guidance(handler, ex)
	fail(res, &Failure{
		Kind:       KindExtractionFailed,
		Message:    fmt.Sprintf("could not extract %s for %s", strings.Join(missing, ", "), handler.Action),
		Strategies: ex.StrategiesUsed,
		Fixes:      []string{"rephrase as: " + extract.ExamplePhrasing(handler)},
	})
	return nil, false
}

func (c *Compiler) gateAndDispatch(ctx context.Context, res *Result, p *plan, cred transport.Credential, opts Options) {
	if opts.DryRun {
		sim := c.simulate(res.TargetID, p, opts)
		res.Simulation = &sim
		res.Status = StatusSimulated
		res.Success = sim.Valid
		return
	}

	if p.assessment.ConfirmationRequired && !opts.Confirmed {
		sim := c.simulate(res.TargetID, p, opts)
		res.Simulation = &sim
		prompt := risk.BuildConfirmationPrompt(p.assessment, risk.Preview{
			TargetID:   res.TargetID,
			Action:     p.handler.Action,
			Parameters: p.params,
			Encoding:   string(p.strategy),
		})
		res.Confirmation = &prompt
		res.Status = StatusConfirmationRequired
		return
	}

	stage := time.Now()
	response, err := c.dispatch(ctx, res.TargetID, cred, p)
	c.metrics.ObserveStage("dispatch", time.Since(stage))
	if err != nil {
		fail(res, dispatchFailure(err))
		return
	}
	res.Response = response
	res.Success = true
	res.Status = StatusExecuted
	// 只有显式指定的策略才会成为目标偏好，启发式结果按处理器形态逐次计算。
	if opts.Encoding != "" {
		c.selector.Learn(res.TargetID, opts.Encoding)
	}
}

func (c *Compiler) simulate(targetID string, p *plan, opts Options) simulate.Result {
	return c.simulator.Simulate(simulate.Request{
		TargetID:   targetID,
		Text:       p.text,
		Parameters: p.params,
		Detection:  p.detection,
		Batch:      opts.Batch,
	}, &p.handler)
}

func fail(res *Result, f *Failure) {
	res.Error = f
	res.Status = StatusFailed
	res.Success = false
}

func validationFailure(v validate.Result) *Failure {
	messages := make([]string, 0, len(v.Errors))
	for _, e := range v.Errors {
		messages = append(messages, e.Message)
	}
	return &Failure{
		Kind:    KindValidationFailed,
		Message: strings.Join(messages, "; "),
		Fixes:   v.SuggestedFixes,
	}
}

func missingRequired(handler protocol.HandlerMetadata, params map[string]any) []string {
	var missing []string
	for _, spec := range handler.RequiredParameters() {
		if v, ok := params[spec.Name]; !ok || v == nil || v == "" {
			missing = append(missing, spec.Name)
		}
	}
	return missing
}

func handlerFixes(handlers []protocol.HandlerMetadata) []string {
	if len(handlers) == 0 {
		return []string{"use Action Name=value assignments, e.g. Transfer Target=<address> Quantity=<amount>"}
	}
	fixes := make([]string, 0, len(handlers))
	for _, h := range handlers {
		fixes = append(fixes, "try: "+extract.ExamplePhrasing(h))
	}
	return fixes
}
