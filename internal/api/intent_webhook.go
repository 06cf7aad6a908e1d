package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/BTreeMap/PizzaPipe/internal/intent"
	"github.com/BTreeMap/PizzaPipe/internal/models"
	"github.com/BTreeMap/PizzaPipe/internal/order"
)

// Intents understood by the fulfillment webhook.
const (
	IntentWelcome     = "Welcome"
	IntentOrderPizza  = "Order.pizza"
	IntentDrinkYes    = "Order.pizza - drink yes"
	IntentDrinkNo     = "Order.pizza - drink no"
	IntentOrderDrink  = "Order.drink"
	FulfillmentSource = "dialogFlow"
)

// Fulfillment replies.
const (
	WelcomeReplyFormat = "Olá! Bem-vindo à Pizza do Bill! Funcionamos das 17h às 22h.\n%s.\nQual pizza você vai querer?"
	PizzaAddedFormat   = "Maravilha! %s então. Você vai querer alguma bebida?"
	PizzaNotUnderstood = "Desculpe, não entendi qual pizza você quer. %s."
	DrinkNotUnderstood = "Desculpe, não entendi qual bebida você quer. %s"
	EmptyOrderReply    = "Você ainda não pediu nenhuma pizza. Qual pizza você vai querer?"
	DrinkNotedFormat   = "Anotei %s."
	FallbackReply      = "Desculpe, não entendi. Pode repetir?"
)

// fulfillmentRequest is the subset of a Dialogflow ES webhook request used here.
type fulfillmentRequest struct {
	Session     string `json:"session"`
	QueryResult struct {
		QueryText  any            `json:"queryText"`
		Parameters map[string]any `json:"parameters"`
		Intent     struct {
			DisplayName string `json:"displayName"`
		} `json:"intent"`
	} `json:"queryResult"`
}

// fulfillmentResponse is the webhook reply.
type fulfillmentResponse struct {
	Source          string `json:"source"`
	FulfillmentText string `json:"fulfillmentText"`
}

// queryText flattens the query text, which some agents send as a list of
// {"name": ...} objects.
func (r *fulfillmentRequest) queryText() string {
	switch v := r.QueryResult.QueryText.(type) {
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			switch it := item.(type) {
			case map[string]any:
				if name, ok := it["name"].(string); ok {
					parts = append(parts, name)
				}
			case string:
				parts = append(parts, it)
			}
		}
		return strings.Join(parts, " ")
	default:
		return ""
	}
}

// intentWebhookHandler handles POST /webhookForIntent, the NLU fulfillment callback.
func (s *Server) intentWebhookHandler(w http.ResponseWriter, r *http.Request) {
	var req fulfillmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.intentWebhookHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	displayName := req.QueryResult.Intent.DisplayName
	slog.Info("Server.intentWebhookHandler: fulfillment", "intent", displayName, "session", req.Session)

	text := s.fulfill(&req)
	writeJSONResponse(w, http.StatusOK, fulfillmentResponse{Source: FulfillmentSource, FulfillmentText: text})
}

func (s *Server) fulfill(req *fulfillmentRequest) string {
	menu := s.manager.Engine().Menu()
	session := req.Session
	queryText := req.queryText()
	params := req.QueryResult.Parameters
	if params == nil {
		params = map[string]any{}
	}

	switch req.QueryResult.Intent.DisplayName {
	case IntentWelcome:
		s.orders.Reset(session)
		return fmt.Sprintf(WelcomeReplyFormat, menu.PizzasMenuText())

	case IntentOrderPizza:
		pizzas, err := menu.ParsePizzaOrders(queryText, params)
		if err != nil {
			slog.Warn("Server.fulfill: pizza not understood", "query", queryText, "error", err)
			return fmt.Sprintf(PizzaNotUnderstood, menu.PizzasMenuText())
		}
		s.orders.AddPizzas(session, pizzas...)
		return fmt.Sprintf(PizzaAddedFormat, upperFirst(menu.PizzasToText(pizzas)))

	case IntentDrinkYes:
		return menu.DrinksMenuText()

	case IntentDrinkNo:
		return s.closeOrder(session)

	case IntentOrderDrink:
		drink, err := menu.StructureDrink(params, queryText)
		if err != nil {
			slog.Warn("Server.fulfill: drink not understood", "query", queryText, "error", err)
			return fmt.Sprintf(DrinkNotUnderstood, menu.DrinksMenuText())
		}
		s.orders.AddDrink(session, drink)
		if len(s.orders.Peek(session).Pizzas) == 0 {
			// The drink stays on the order until a pizza is added.
			return fmt.Sprintf(DrinkNotedFormat, menu.DrinkToText(drink)) + " " + EmptyOrderReply
		}
		return s.closeOrder(session)

	default:
		slog.Warn("Server.fulfill: unknown intent", "intent", req.QueryResult.Intent.DisplayName)
		return FallbackReply
	}
}

// closeOrder prices the order of session and forgets it.
func (s *Server) closeOrder(session string) string {
	full := s.orders.Peek(session)
	if len(full.Pizzas) == 0 {
		return EmptyOrderReply
	}
	priced, err := s.manager.Engine().Aggregator().AnalyzeTotalPrice(full)
	if err != nil {
		var pricingErr *order.PricingError
		if errors.As(err, &pricingErr) {
			slog.Error("Server.closeOrder: menu and price table disagree", "key", pricingErr.Key.String())
		}
		return intent.InternalErrorReply
	}
	s.orders.Reset(session)
	return priced.FinalMessage
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
