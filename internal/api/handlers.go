package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"ASpec-Commerce/internal/agent"
	"ASpec-Commerce/internal/catalog"
	"ASpec-Commerce/internal/decision"
	xerrors "ASpec-Commerce/internal/errors"
	"ASpec-Commerce/internal/events"
	"ASpec-Commerce/internal/guardrail"
	"ASpec-Commerce/internal/observability/alerting"
	"ASpec-Commerce/internal/paywall"
	"ASpec-Commerce/internal/settlement"
	"ASpec-Commerce/internal/task"
)

const (
	defaultEventCount = 20
	maxBodyBytes      = 1 << 20
)

type analyzeRequest struct {
	Data json.RawMessage `json:"data"`
}

type analyzeResponse struct {
	Success     bool                          `json:"success"`
	AgentType   decision.Kind                 `json:"agentType"`
	Decision    decision.Decision             `json:"decision"`
	Transaction *settlement.TransactionResult `json:"transaction,omitempty"`
	Subject     any                           `json:"subject"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	kind := decision.Kind(r.PathValue("kind"))
	var req analyzeRequest
	if err := decodeOptional(r, &req); err != nil {
		badRequest(w, "请求体格式错误: "+err.Error())
		return
	}

	var (
		out     agent.Outcome
		subject any
		err     error
	)
	switch kind {
	case decision.KindProcurement:
		if s.deps.Procurement == nil {
			writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "采购 Agent 未初始化"))
			return
		}
		quote, ok, perr := pickSupplier(req.Data, s.deps.Catalog)
		if perr != nil {
			writeError(w, perr)
			return
		}
		if !ok {
			writeError(w, xerrors.New(xerrors.CodeNotFound, "目录中没有供应商"))
			return
		}
		subject = quote
		out, err = s.deps.Procurement.AnalyzeAndExecute(r.Context(), quote)
	case decision.KindMarketing:
		if s.deps.Marketing == nil {
			writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "营销 Agent 未初始化"))
			return
		}
		inf, ok, perr := pickInfluencer(req.Data, s.deps.Catalog)
		if perr != nil {
			writeError(w, perr)
			return
		}
		if !ok {
			writeError(w, xerrors.New(xerrors.CodeNotFound, "目录中没有达人"))
			return
		}
		subject = inf
		out, err = s.deps.Marketing.EvaluateAndEngage(r.Context(), inf)
	default:
		badRequest(w, "Invalid agent type")
		return
	}
	if err != nil {
		s.alert(r.Context(), string(kind), err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analyzeResponse{
		Success:     true,
		AgentType:   kind,
		Decision:    out.Decision,
		Transaction: out.Transaction,
		Subject:     subject,
	})
}

func pickSupplier(raw json.RawMessage, c *catalog.Catalog) (catalog.Supplier, bool, error) {
	if len(raw) == 0 || string(raw) == "null" {
		quote, ok := c.RandomSupplier()
		return quote, ok, nil
	}
	var quote catalog.Supplier
	if err := json.Unmarshal(raw, &quote); err != nil {
		return quote, false, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "供应商报价格式错误")
	}
	if err := quote.Validate(); err != nil {
		return quote, false, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "")
	}
	return quote, true, nil
}

func pickInfluencer(raw json.RawMessage, c *catalog.Catalog) (catalog.Influencer, bool, error) {
	if len(raw) == 0 || string(raw) == "null" {
		inf, ok := c.RandomInfluencer()
		return inf, ok, nil
	}
	var inf catalog.Influencer
	if err := json.Unmarshal(raw, &inf); err != nil {
		return inf, false, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "达人资料格式错误")
	}
	if err := inf.Validate(); err != nil {
		return inf, false, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "")
	}
	return inf, true, nil
}

type discoverResponse struct {
	Success   bool             `json:"success"`
	AgentType decision.Kind    `json:"agentType"`
	Result    paywall.Response `json:"result"`
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	if s.deps.Marketing == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "营销 Agent 未初始化"))
		return
	}
	resp := s.deps.Marketing.DiscoverInfluencers(r.Context())
	writeJSON(w, http.StatusOK, discoverResponse{Success: resp.Success, AgentType: decision.KindMarketing, Result: resp})
}

type guardrailRequest struct {
	DailyLimit        *decimal.Decimal `json:"dailyLimit"`
	MaxPerTransaction *decimal.Decimal `json:"maxPerTransaction"`
}

type guardrailResponse struct {
	Success   bool               `json:"success"`
	AgentType decision.Kind      `json:"agentType"`
	Guardrail guardrail.Snapshot `json:"guardrail"`
}

func (s *Server) handleGuardrails(w http.ResponseWriter, r *http.Request) {
	kind := decision.Kind(r.PathValue("kind"))
	var req guardrailRequest
	if err := decodeOptional(r, &req); err != nil {
		badRequest(w, "请求体格式错误: "+err.Error())
		return
	}
	if req.DailyLimit == nil && req.MaxPerTransaction == nil {
		badRequest(w, "至少需要提供 dailyLimit 或 maxPerTransaction")
		return
	}

	var (
		snap guardrail.Snapshot
		err  error
	)
	switch {
	case kind == decision.KindProcurement && s.deps.Procurement != nil:
		snap, err = s.deps.Procurement.UpdateGuardrails(req.DailyLimit, req.MaxPerTransaction)
	case kind == decision.KindMarketing && s.deps.Marketing != nil:
		snap, err = s.deps.Marketing.UpdateGuardrails(req.DailyLimit, req.MaxPerTransaction)
	default:
		badRequest(w, "Invalid agent type")
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, guardrailResponse{Success: true, AgentType: kind, Guardrail: snap})
}

type walletView struct {
	settlement.Balance
	Error string `json:"error,omitempty"`
}

type statusResponse struct {
	Success     bool         `json:"success"`
	Wallet      *walletView  `json:"wallet,omitempty"`
	MockMode    bool         `json:"mockMode"`
	Procurement *agent.State `json:"procurement,omitempty"`
	Marketing   *agent.State `json:"marketing,omitempty"`
	Tasks       *task.Stats  `json:"tasks,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Success: true, MockMode: s.deps.Mode == "" || s.deps.Mode == settlement.ModeMock}
	if s.deps.Wallet != nil {
		bal, err := s.deps.Wallet.Balance(r.Context())
		view := &walletView{Balance: bal}
		if err != nil {
			view.Error = err.Error()
			s.log.Warn("查询钱包余额失败", slog.Any("error", err))
		}
		resp.Wallet = view
	}
	if s.deps.Procurement != nil {
		st := s.deps.Procurement.State()
		resp.Procurement = &st
	}
	if s.deps.Marketing != nil {
		st := s.deps.Marketing.State()
		resp.Marketing = &st
	}
	if s.deps.Tasks != nil {
		if stats, err := s.deps.Tasks.Stats(r.Context()); err == nil {
			resp.Tasks = &stats
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type eventsResponse struct {
	Success     bool           `json:"success"`
	Procurement []events.Event `json:"procurement"`
	Marketing   []events.Event `json:"marketing"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	count := defaultEventCount
	if raw := strings.TrimSpace(r.URL.Query().Get("count")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(w, "count 必须是非负整数")
			return
		}
		count = n
	}
	resp := eventsResponse{Success: true, Procurement: []events.Event{}, Marketing: []events.Event{}}
	if s.deps.Procurement != nil {
		resp.Procurement = nonNil(s.deps.Procurement.RecentEvents(count))
	}
	if s.deps.Marketing != nil {
		resp.Marketing = nonNil(s.deps.Marketing.RecentEvents(count))
	}
	writeJSON(w, http.StatusOK, resp)
}

func nonNil(evts []events.Event) []events.Event {
	if evts == nil {
		return []events.Event{}
	}
	return evts
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Procurement != nil {
		s.deps.Procurement.ResetDailySpending()
		s.deps.Procurement.ClearEvents()
	}
	if s.deps.Marketing != nil {
		s.deps.Marketing.ResetDailySpending()
		s.deps.Marketing.ClearEvents()
	}
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Agent state reset"})
}

type samplesResponse struct {
	Suppliers   []catalog.Supplier   `json:"suppliers"`
	Influencers []catalog.Influencer `json:"influencers"`
	Endpoints   map[string]string    `json:"endpoints"`
}

var endpoints = map[string]string{
	"POST /api/v1/agents/{kind}/analyze":     "run one analysis for procurement or marketing",
	"POST /api/v1/agents/marketing/discover": "fetch premium influencer profiles over x402",
	"PATCH /api/v1/agents/{kind}/guardrails": "adjust daily and per-transaction limits",
	"GET /api/v1/status":                     "wallet and agent state",
	"GET /api/v1/events":                     "recent agent events",
	"POST /api/v1/reset":                     "reset daily spending and events",
	"POST /api/v1/jobs":                      "submit an asynchronous agent job",
	"GET /api/v1/jobs/{id}":                  "job status",
	"POST /api/v1/webhook":                   "settlement callback inbox",
}

func (s *Server) handleSamples(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, samplesResponse{
		Suppliers:   s.deps.Catalog.Suppliers,
		Influencers: s.deps.Catalog.Influencers,
		Endpoints:   endpoints,
	})
}

type receiptsResponse struct {
	Success  bool                              `json:"success"`
	Policy   paywall.ReceiptPolicy             `json:"policy"`
	Receipts map[string]paywall.PaymentReceipt `json:"receipts"`
}

func (s *Server) handleReceipts(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Paywall == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "付费协议未初始化"))
		return
	}
	writeJSON(w, http.StatusOK, receiptsResponse{
		Success:  true,
		Policy:   s.deps.Paywall.Policy(),
		Receipts: s.deps.Paywall.Receipts(),
	})
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tasks == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未启用"))
		return
	}
	var req task.Request
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		badRequest(w, "请求体格式错误: "+err.Error())
		return
	}
	created, err := s.deps.Tasks.Submit(r.Context(), req)
	if err != nil {
		s.alert(r.Context(), "jobs", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tasks == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未启用"))
		return
	}
	found, err := s.deps.Tasks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

type jobsResponse struct {
	Tasks []*task.Task `json:"tasks"`
	Stats task.Stats   `json:"stats"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tasks == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未启用"))
		return
	}
	query := r.URL.Query()
	var opts []task.ListOption
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(w, "limit 必须是正整数")
			return
		}
		opts = append(opts, task.WithLimit(n))
	}
	if raw := query.Get("status"); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			st := task.Status(strings.TrimSpace(part))
			if !task.IsValidStatus(st) {
				badRequest(w, "未知的任务状态: "+string(st))
				return
			}
			statuses = append(statuses, st)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if raw := query.Get("agent"); raw != "" {
		opts = append(opts, task.WithAgent(decision.Kind(raw)))
	}

	list, err := s.deps.Tasks.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.deps.Tasks.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []*task.Task{}
	}
	writeJSON(w, http.StatusOK, jobsResponse{Tasks: list, Stats: stats})
}

// decodeOptional 解析可选的 JSON 请求体，空请求体不视为错误。
func decodeOptional(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) alert(ctx context.Context, source string, err error) {
	if s.deps.Alerter == nil || !xerrors.ShouldAlert(err) {
		return
	}
	event := alerting.FromError("api", err)
	event.Subject = source
	if notifyErr := s.deps.Alerter.Notify(ctx, event); notifyErr != nil {
		s.log.Warn("发送告警失败", slog.Any("error", notifyErr))
	}
}
