package megafon

import (
	"context"
	"net/url"

	http "github.com/bogdanfinn/fhttp"
)

const (
	pathMainInfo       = "/mlk/api/main/info"
	pathCurrentOptions = "/mlk/api/options/list/current"
	pathOptions        = "/mlk/api/options/"
	pathPassword       = "/mlk/api/profile/password"
	pathTariffList     = "/mlk/api/tariff/list"
	pathTariff         = "/mlk/api/tariff/"
	pathCurrentTariff  = "/mlk/api/tariff/current"
)

// fetch sends r, logs the body and decodes it.
func (s *Service) fetch(ctx context.Context, r Request) (*Response, *Answer, error) {
	resp, err := s.transport.Do(ctx, r)
	if err != nil {
		return nil, nil, err
	}
	s.logger.InfoContext(ctx, string(resp.Body), "session", s.transport.ID())

	answer, err := decodeAnswer(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, answer, nil
}

// rejection builds the error for a refused mutation from the portal's message.
func rejection(a *Answer) error {
	if msg, ok := a.String("message"); ok {
		return &RejectionError{Message: msg}
	}
	return &RejectionError{Message: unknownRejection}
}

// Balance returns the main account info. The answer is guaranteed to carry balance.
func (s *Service) Balance(ctx context.Context) (*Answer, error) {
	resp, answer, err := s.fetch(ctx, Request{Method: http.MethodGet, Path: pathMainInfo})
	if err != nil {
		return nil, err
	}
	if !answer.Has("balance") {
		return nil, &RuntimeError{Message: "Balance not found", StatusCode: resp.StatusCode}
	}
	return answer, nil
}

// Services lists the options currently attached to the subscription.
func (s *Service) Services(ctx context.Context) (*Answer, error) {
	_, answer, err := s.fetch(ctx, Request{Method: http.MethodGet, Path: pathCurrentOptions})
	return answer, err
}

func (s *Service) DisableService(ctx context.Context, serviceID string) error {
	_, err := s.transport.Do(ctx, Request{Method: http.MethodDelete, Path: pathOptions + serviceID})
	return err
}

func (s *Service) EnableService(ctx context.Context, serviceID string) error {
	_, err := s.transport.Do(ctx, Request{Method: http.MethodPost, Path: pathOptions + serviceID})
	return err
}

// ChangePassword succeeds only when the portal answers with a truthy ok.
func (s *Service) ChangePassword(ctx context.Context, currentPassword, newPassword string) error {
	_, answer, err := s.fetch(ctx, Request{
		Method: http.MethodPost,
		Path:   pathPassword,
		Form: url.Values{
			"currentPassword": {currentPassword},
			"newPassword":     {newPassword},
		},
	})
	if err != nil {
		return err
	}
	if answer.Truthy("ok") {
		return nil
	}
	return rejection(answer)
}

func (s *Service) Tariffs(ctx context.Context) (*Answer, error) {
	_, answer, err := s.fetch(ctx, Request{Method: http.MethodGet, Path: pathTariffList})
	return answer, err
}

func (s *Service) Tariff(ctx context.Context, tariffID string) (*Answer, error) {
	_, answer, err := s.fetch(ctx, Request{Method: http.MethodGet, Path: pathTariff + tariffID})
	return answer, err
}

// ChangeTariff switches the subscription to tariffID. Only a 200 counts as
// done; its body is not required to be JSON.
func (s *Service) ChangeTariff(ctx context.Context, tariffID string) error {
	resp, err := s.transport.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   pathCurrentTariff,
		Query:  url.Values{"tariffId": {tariffID}},
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, string(resp.Body), "session", s.transport.ID())

	if resp.StatusCode == http.StatusOK {
		return nil
	}
	answer, err := decodeAnswer(resp.Body)
	if err != nil {
		return err
	}
	return rejection(answer)
}
