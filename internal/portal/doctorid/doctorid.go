// Package doctorid drives the DoctorID portal: it logs in, opens the group
// page and applies the advanced "profile percentage" filter to count records.
package doctorid

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"portalwatch-backend/internal/browser"
	"portalwatch-backend/internal/browser/locator"
	"portalwatch-backend/internal/components/assert"
	"portalwatch-backend/internal/components/telemetry"
	"portalwatch-backend/internal/portal"
	"portalwatch-backend/lib/textutil"

	"github.com/PuerkitoBio/goquery"
)

const (
	report_filter = "filter"
	report_alert  = "alert"
)

// Config holds the urls, filter values and timings of the DoctorID workflow.
type Config struct {
	LoginURL    string `json:"login_url"`
	Host        string `json:"host"`
	LandingURL  string `json:"landing_url"`
	LandingHash string `json:"landing_hash"`

	FilterType     string `json:"filter_type"`
	FilterTypeText string `json:"filter_type_text"`
	Operator       string `json:"operator"`
	OperatorText   string `json:"operator_text"`
	Threshold      string `json:"threshold"`

	NavigationTimeout time.Duration `json:"-"`
	SettleDelay       time.Duration `json:"-"`
	FieldTimeout      time.Duration `json:"-"`
	FieldDelay        time.Duration `json:"-"`
	SubmitTimeout     time.Duration `json:"-"`
	ClickTimeout      time.Duration `json:"-"`
	OutcomeAttempts   int           `json:"-"`
	OutcomeDelay      time.Duration `json:"-"`
	LandingDelay      time.Duration `json:"-"`
	// RenderDelay is waited for the group page scripts to render.
	RenderDelay time.Duration `json:"-"`
	// StepDelay is waited between filter steps for dependent fields to show up.
	StepDelay time.Duration `json:"-"`
	// ElementTimeout bounds the wait for the filter panel and the result alert.
	ElementTimeout time.Duration `json:"-"`
}

// DefaultConfig returns the production urls and timings.
func DefaultConfig() Config {
	return Config{
		LoginURL:          "https://www.doctorid.com.br/website",
		Host:              "doctorid.com.br",
		LandingURL:        "https://www.doctorid.com.br/#personGroupCompany",
		LandingHash:       "#personGroupCompany",
		FilterType:        "PercentualDoPerfil",
		FilterTypeText:    "Percentual do perfil",
		Operator:          "MaiorOuIgual",
		OperatorText:      "maior ou igual",
		Threshold:         "40",
		NavigationTimeout: 120 * time.Second,
		SettleDelay:       3 * time.Second,
		FieldTimeout:      2 * time.Second,
		FieldDelay:        500 * time.Millisecond,
		SubmitTimeout:     60 * time.Second,
		ClickTimeout:      browser.DefaultClickTimeout,
		OutcomeAttempts:   3,
		OutcomeDelay:      5 * time.Second,
		LandingDelay:      5 * time.Second,
		RenderDelay:       3 * time.Second,
		StepDelay:         2 * time.Second,
		ElementTimeout:    30 * time.Second,
	}
}

var usernameStrategies = append([]locator.Strategy{
	{Selector: `input[name="S_IDENTIFIER"]`},
}, portal.UsernameStrategies...)

var passwordStrategies = append([]locator.Strategy{
	{Selector: `input[name="S_PASSWORD"]`},
}, portal.PasswordStrategies...)

var submitStrategies = []locator.Strategy{
	{Selector: `button[type="submit"], input[type="submit"]`},
	{
		Name:     "login-text",
		Selector: `button, input[type="button"]`,
		TextAny:  []string{"entrar", "login", "acessar"},
	},
}

var successHints = []locator.Strategy{
	{Selector: `[class*="dashboard"], [class*="menu"], [id*="menu"], [class*="nav"]`},
}

func (c Config) login() portal.LoginConfig {
	return portal.LoginConfig{
		URL:               c.LoginURL,
		TolerateHost:      c.Host,
		NavigationTimeout: c.NavigationTimeout,
		SettleDelay:       c.SettleDelay,
		FieldTimeout:      c.FieldTimeout,
		FieldDelay:        c.FieldDelay,
		SubmitTimeout:     c.SubmitTimeout,
		ClickTimeout:      c.ClickTimeout,
		Username:          usernameStrategies,
		Password:          passwordStrategies,
		Submit:            submitStrategies,
		FailureURL:        []string{"login"},
		SuccessHints:      successHints,
		ErrorHints:        portal.ErrorHints,
		ErrorTerms:        portal.ErrorTerms,
		OutcomeAttempts:   c.OutcomeAttempts,
		OutcomeDelay:      c.OutcomeDelay,
		Landing:           c.LandingURL,
		LandingHash:       c.LandingHash,
		LandingDelay:      c.LandingDelay,
	}
}

// Choice is the value and visible text of a select after it was set.
type Choice struct {
	Valor string `json:"valor"`
	Texto string `json:"texto"`
}

// Input is the threshold input after it was filled.
type Input struct {
	Valor    string `json:"valor"`
	Inserido bool   `json:"inserido"`
}

// FilterData is the payload of a successful check.
type FilterData struct {
	Message                string `json:"message"`
	FiltroAvancadoAcessado bool   `json:"filtroAvancadoAcessado"`
	FiltroAplicado         bool   `json:"filtroAplicado"`
	TipoFiltroSelecionado  Choice `json:"tipoFiltroSelecionado"`
	OperadorSelecionado    Choice `json:"operadorSelecionado"`
	ValorInput             Input  `json:"valorInput"`
	Registros              int    `json:"registros"`
	MensagemAlerta         string `json:"mensagemAlerta"`
}

// Portal runs the DoctorID workflow.
type Portal struct {
	config Config
	open   portal.PageFactory
	tel    telemetry.API
}

func New(config Config, open portal.PageFactory, tel telemetry.API) *Portal {
	assert.NotNil(tel, "telemetry")
	return &Portal{
		config: config,
		open:   open,
		tel:    telemetry.NewScopedAPI("doctorid", tel),
	}
}

// Check logs in and runs the filter sequence. A login the portal does not
// confirm is reported as an unsuccessful result rather than an error.
func (p *Portal) Check(ctx context.Context, cred portal.Credential) (portal.Result, error) {
	page, err := p.open(ctx)
	if err != nil {
		return portal.Result{}, err
	}
	defer page.Close()

	login := portal.NewLogin(page, p.config.login(), p.tel)
	err = login.Run(ctx, cred.Username, cred.Password)
	if portal.IsAuthentication(err) {
		return portal.Result{Success: false, Message: "Falha no login"}, nil
	}
	if err != nil {
		return portal.Result{}, err
	}

	data, err := p.filter(ctx, page)
	if err != nil {
		p.tel.ReportBroken(report_filter, err)
		return portal.Result{}, err
	}

	cookies, err := page.Cookies(ctx)
	if err != nil {
		p.tel.ReportWarning(report_filter, fmt.Errorf("cookies: %w", err))
	}

	return portal.Result{
		Success: true,
		Message: "Login bem-sucedido",
		Cookies: cookies,
		Data:    data,
	}, nil
}

const (
	panelSelector    = ".filtroComplexo_selecionar"
	typeSelector     = `.filtroComplexo_selecionar select[name="criterios[][tipoFiltroComplexo]"]`
	operatorSelector = `.filtroComplexo_selecionar select[name="criterios[][parametros[]]"]`
	inputSelector    = `.filtroComplexo_selecionar input[name="criterios[][parametros[]]"][type="text"]`
)

var advancedFilterLink = []locator.Strategy{
	{Selector: `a[href="#filtroAvancado"]`},
	{Name: "filter-text", Selector: `a`, TextAny: []string{"Filtro Avançado"}},
}

// findOption returns the value of the first option matching value exactly or
// whose trimmed text matches text. When contains is set the text only needs
// to be contained, ignoring case.
func findOption(sel *goquery.Selection, value, text string, contains bool) (string, bool) {
	var found string
	ok := false
	sel.Find("option").EachWithBreak(func(_ int, opt *goquery.Selection) bool {
		optValue := opt.AttrOr("value", "")
		optText := strings.TrimSpace(opt.Text())
		match := optValue == value
		if contains {
			match = match || textutil.ContainsAnyFold(optText, []string{text})
		} else {
			match = match || optText == text
		}
		if match {
			found, ok = optValue, true
			return false
		}
		return true
	})
	return found, ok
}

func (p *Portal) snapshot(ctx context.Context, page browser.Page) (*goquery.Document, error) {
	return browser.Snapshot(ctx, page)
}

// selectChoice picks value on the select and reads back what it shows.
func (p *Portal) selectChoice(ctx context.Context, page browser.Page, doc *goquery.Document, sel *goquery.Selection, value string) (Choice, error) {
	selector := locator.UniqueSelector(doc, sel)
	err := page.SelectOption(ctx, selector, value)
	if err != nil {
		return Choice{}, err
	}

	current, err := page.Value(ctx, selector)
	if err != nil {
		return Choice{}, err
	}
	choice := Choice{Valor: current}

	after, err := p.snapshot(ctx, page)
	if err != nil {
		return choice, nil
	}
	choice.Texto = strings.TrimSpace(after.Find(selector).Find(fmt.Sprintf(`option[value="%s"]`, current)).First().Text())

	rendered := after.Find(selector).Next().Find(".select2-selection__rendered")
	if rendered.Length() > 0 {
		p.tel.ReportDebug("select2 shows", strings.TrimSpace(rendered.Text()))
	} else {
		p.tel.ReportDebug("select2 not attached", selector)
	}
	return choice, nil
}

func (p *Portal) filter(ctx context.Context, page browser.Page) (FilterData, error) {
	poll := browser.DefaultPoll.WithTimeout(p.config.ElementTimeout)

	err := browser.Sleep(ctx, p.config.RenderDelay)
	if err != nil {
		return FilterData{}, err
	}

	// 1. advanced filter link
	doc, err := p.snapshot(ctx, page)
	if err != nil {
		return FilterData{}, err
	}
	link, ok := locator.Find(doc, advancedFilterLink)
	if !ok {
		return FilterData{}, fmt.Errorf("advanced filter link: %w", portal.ErrLocatorExhausted)
	}
	err = page.ClickJS(ctx, link.Selector)
	if err != nil {
		return FilterData{}, fmt.Errorf("click advanced filter link: %w", err)
	}
	err = browser.Sleep(ctx, p.config.StepDelay)
	if err != nil {
		return FilterData{}, err
	}

	// 2. filter type
	err = browser.WaitSelector(ctx, page, panelSelector, poll)
	if err != nil {
		return FilterData{}, fmt.Errorf("filter panel: %w", err)
	}
	doc, err = p.snapshot(ctx, page)
	if err != nil {
		return FilterData{}, err
	}
	typeSelect := doc.Find(typeSelector).First()
	if typeSelect.Length() == 0 {
		return FilterData{}, fmt.Errorf("filter type select: %w", portal.ErrLocatorExhausted)
	}
	typeValue, ok := findOption(typeSelect, p.config.FilterType, p.config.FilterTypeText, false)
	if !ok {
		return FilterData{}, fmt.Errorf("filter type option %q: %w", p.config.FilterTypeText, portal.ErrLocatorExhausted)
	}

	// 3. set it, Select2 is updated by the page implementation
	tipo, err := p.selectChoice(ctx, page, doc, typeSelect, typeValue)
	if err != nil {
		return FilterData{}, fmt.Errorf("select filter type: %w", err)
	}
	err = browser.Sleep(ctx, p.config.StepDelay)
	if err != nil {
		return FilterData{}, err
	}

	// 4. operator, the select with the "greater or equal" option
	doc, err = p.snapshot(ctx, page)
	if err != nil {
		return FilterData{}, err
	}
	var operatorSelect *goquery.Selection
	var operatorValue string
	doc.Find(operatorSelector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		value, ok := findOption(sel, p.config.Operator, p.config.OperatorText, true)
		if ok {
			operatorSelect, operatorValue = sel, value
			return false
		}
		return true
	})
	if operatorSelect == nil {
		return FilterData{}, fmt.Errorf("operator select: %w", portal.ErrLocatorExhausted)
	}
	operador, err := p.selectChoice(ctx, page, doc, operatorSelect, operatorValue)
	if err != nil {
		return FilterData{}, fmt.Errorf("select operator: %w", err)
	}
	err = browser.Sleep(ctx, p.config.StepDelay)
	if err != nil {
		return FilterData{}, err
	}

	// 5. threshold input
	doc, err = p.snapshot(ctx, page)
	if err != nil {
		return FilterData{}, err
	}
	var thresholdInput *goquery.Selection
	doc.Find(inputSelector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		_, hasPattern := sel.Attr("pattern")
		if hasPattern && sel.AttrOr("max", "") == "100" && sel.AttrOr("maxlength", "") == "5" {
			thresholdInput = sel
			return false
		}
		return true
	})
	if thresholdInput == nil {
		return FilterData{}, fmt.Errorf("threshold input: %w", portal.ErrLocatorExhausted)
	}
	thresholdSelector := locator.UniqueSelector(doc, thresholdInput)
	err = page.SetValue(ctx, thresholdSelector, p.config.Threshold)
	if err != nil {
		return FilterData{}, fmt.Errorf("fill threshold: %w", err)
	}
	err = page.PressEnter(ctx, thresholdSelector)
	if err != nil {
		return FilterData{}, fmt.Errorf("submit filter: %w", err)
	}

	// 6. the value must survive the submit, a reset means the filter was ignored
	retained, err := page.Value(ctx, thresholdSelector)
	if err != nil || retained != p.config.Threshold {
		p.tel.ReportWarning(report_filter, fmt.Errorf("threshold not retained, got %q", retained), err)
	}
	if retained == "" {
		retained = p.config.Threshold
	}

	// 7. result alert
	err = browser.WaitSelector(ctx, page, `.alert.alert-dismissible.hidden-print.alert-info[role="alert"]`, poll)
	if err != nil && ctx.Err() != nil {
		return FilterData{}, ctx.Err()
	}
	if err != nil && !errors.Is(err, browser.ErrTimeout) {
		return FilterData{}, err
	}

	doc, err = p.snapshot(ctx, page)
	if err != nil {
		return FilterData{}, err
	}
	registros, message := AlertCount(doc)
	if registros == 0 {
		p.tel.ReportWarning(report_alert, "no record count found, reporting zero")
	}

	return FilterData{
		Message: fmt.Sprintf(
			`Login bem-sucedido, Filtro Avançado configurado: "%s", "%s" e valor "%s"`,
			tipo.Texto, operador.Texto, p.config.Threshold,
		),
		FiltroAvancadoAcessado: true,
		FiltroAplicado:         registros > 0,
		TipoFiltroSelecionado:  tipo,
		OperadorSelecionado:    operador,
		ValorInput:             Input{Valor: retained, Inserido: true},
		Registros:              registros,
		MensagemAlerta:         message,
	}, nil
}

var (
	foundRegex = regexp.MustCompile(`(?i)(\d+)\s*registro\(s\)\s*encontrado\(s\)`)
	looseRegex = regexp.MustCompile(`(?i)(\d+)\s*registro`)
)

type alertStrategy struct {
	selector string
	regex    *regexp.Regexp
}

var alertStrategies = []alertStrategy{
	{
		selector: `div.alert.alert-dismissible.hidden-print.alert-info[data-requests-to-live=""][role="alert"]`,
		regex:    foundRegex,
	},
	{selector: `.alert.alert-info`, regex: foundRegex},
	{selector: `.alert`, regex: looseRegex},
}

// AlertCount extracts the number of records from the result alert, it
// returns zero and an empty message when no alert carries a count.
func AlertCount(doc *goquery.Document) (int, string) {
	for _, strategy := range alertStrategies {
		count, message := 0, ""
		doc.Find(strategy.selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			text := locator.Text(sel)
			groups := strategy.regex.FindStringSubmatch(text)
			if len(groups) < 2 {
				return true
			}
			n, err := strconv.Atoi(groups[1])
			if err != nil {
				return true
			}
			count, message = n, text
			return false
		})
		if message != "" {
			return count, message
		}
	}
	return 0, ""
}
