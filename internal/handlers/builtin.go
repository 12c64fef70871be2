package handlers

import (
	"github.com/rendis/flowgraph/internal/expressions"
	"github.com/rendis/flowgraph/pkg/schema"
)

// Built-in node type keys.
const (
	TypeTrigger          = "trigger"
	TypeCondition        = "condition"
	TypeSwitch           = "switchcase"
	TypeSetVariable      = "setvariable"
	TypeGetVariable      = "getvariable"
	TypeFlowVariable     = "flowvariable"
	TypeParseJSON        = "parsejson"
	TypeCalculation      = "calculation"
	TypeCombineVariables = "combinevariables"
	TypeDateCondition    = "datecondition"
	TypeNotification     = "notification"
	TypeAPI              = "api"
	TypeWebhook          = "triggerwebhook"
	TypeReturn           = "return"
	TypeTriggerFlow      = "triggerflow"
	TypeComment          = "comment"
	TypeSticker          = "sticker"
)

// builtinAliases maps alternative spellings found in saved diagrams to built-in types.
var builtinAliases = map[string]string{
	"if":              TypeCondition,
	"ifcondition":     TypeCondition,
	"switch":          TypeSwitch,
	"jsonextract":     TypeParseJSON,
	"triggerflownode": TypeTriggerFlow,
	"setvar":          TypeSetVariable,
	"getvar":          TypeGetVariable,
	"apirequest":      TypeAPI,
	"webhook":         TypeWebhook,
}

// CanonicalType normalizes t and resolves built-in aliases, so "If" and
// "condition" both yield TypeCondition.
func CanonicalType(t string) string {
	key := schema.NormalizeType(t)
	if target, ok := builtinAliases[key]; ok {
		return target
	}
	return key
}

// RegisterBuiltins registers every built-in handler in reg and returns the
// sub-flow handler so the caller can bind a FlowRunner later.
func RegisterBuiltins(reg *Registry, deps Deps) (*SubflowHandler, error) {
	exprs := deps.Expressions
	if exprs == nil {
		set, err := expressions.NewSet()
		if err != nil {
			return nil, err
		}
		exprs = set
	}

	subflow := NewSubflowHandler(deps.Flows, deps.Async, deps.logger())

	all := map[string]Handler{
		TypeTrigger:          TriggerHandler{},
		TypeCondition:        NewConditionHandler(exprs.CEL),
		TypeSwitch:           SwitchHandler{},
		TypeSetVariable:      NewSetVariableHandler(deps.Cache),
		TypeGetVariable:      NewGetVariableHandler(deps.Cache),
		TypeFlowVariable:     FlowVariableHandler{},
		TypeParseJSON:        NewParseJSONHandler(exprs.JQ),
		TypeCalculation:      NewCalculationHandler(exprs.Expr),
		TypeCombineVariables: CombineVariablesHandler{},
		TypeDateCondition:    NewDateConditionHandler(),
		TypeNotification:     NewNotificationHandler(deps.logger()),
		TypeAPI:              NewAPIHandler(deps.HTTP, deps.HTTPClient),
		TypeWebhook:          NewWebhookHandler(deps.HTTP, deps.HTTPClient),
		TypeReturn:           ReturnHandler{},
		TypeTriggerFlow:      subflow,
		TypeComment:          AnnotationHandler{},
		TypeSticker:          AnnotationHandler{},
	}

	for name, h := range all {
		if err := reg.RegisterBuiltin(name, h); err != nil {
			return nil, err
		}
	}
	for alias, target := range builtinAliases {
		if err := reg.Alias(alias, target); err != nil {
			return nil, err
		}
	}
	return subflow, nil
}
