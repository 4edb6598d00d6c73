package geodb

import (
	"context"

	"github.com/jobrunner/geodb-openeo/internal/domain"
	"github.com/jobrunner/geodb-openeo/internal/ports/output"
)

// Provider resolves collections of the geoDB on behalf of one access token.
type Provider struct {
	client *Client
	token  string
}

// NewProvider creates a provider for token.
func NewProvider(client *Client, token string) *Provider {
	return &Provider{client: client, token: token}
}

// NewProviderFactory returns a factory creating one provider per token.
func NewProviderFactory(client *Client) output.ProviderFactory {
	return func(_ context.Context, token string) (output.VectorCubeProvider, error) {
		return NewProvider(client, token), nil
	}
}

// CollectionKeys implements output.VectorCubeProvider.
func (p *Provider) CollectionKeys(ctx context.Context) ([]domain.CollectionID, error) {
	const op = "geodb_get_my_collections"
	body, err := p.client.RPC(ctx, p.token, op, map[string]any{"database": nil})
	if err != nil {
		return nil, &domain.RemoteError{Operation: op, Err: err}
	}
	rows, err := decodeRows(body)
	if err != nil {
		return nil, &domain.RemoteError{Operation: op, Err: err}
	}

	keys := make([]domain.CollectionID, 0, len(rows))
	for _, r := range rows {
		database, _ := r["database"].(string)
		collection, _ := r["collection"].(string)
		if collection == "" {
			continue
		}
		keys = append(keys, domain.NewCollectionID(database, collection))
	}
	return keys, nil
}

// DataSource implements output.VectorCubeProvider.
func (p *Provider) DataSource(_ context.Context, id domain.CollectionID, bbox *domain.BBox) (output.DataSource, error) {
	return NewDataSource(p.client, p.token, id, bbox), nil
}

// TransformBBox implements output.VectorCubeProvider.
func (p *Provider) TransformBBox(ctx context.Context, id domain.CollectionID, bbox domain.BBox, crs int) (domain.BBox, error) {
	srid, err := NewDataSource(p.client, p.token, id, nil).SRID(ctx)
	if err != nil {
		return domain.BBox{}, err
	}
	if srid == crs {
		return bbox, nil
	}
	return p.client.TransformBBox(ctx, p.token, bbox, crs, srid)
}

// TransformBBox reprojects bbox with the geoDB.
func (c *Client) TransformBBox(ctx context.Context, token string, bbox domain.BBox, from, to int) (domain.BBox, error) {
	const op = "geodb_transform_bbox"
	body, err := c.RPC(ctx, token, op, map[string]any{
		"bbox":      bbox.Slice(),
		"from_srid": from,
		"to_srid":   to,
	})
	if err != nil {
		return domain.BBox{}, &domain.RemoteError{Operation: op, Err: err}
	}
	transformed, ok, err := decodeBox(body, op)
	if err != nil {
		return domain.BBox{}, &domain.RemoteError{Operation: op, Err: err}
	}
	if !ok {
		return domain.BBox{}, &domain.RemoteError{Operation: op, Err: domain.ErrInvalidBBox}
	}
	return transformed, nil
}
