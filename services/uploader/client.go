package uploader

import (
	"context"
	"strings"

	"ojsbot-backend/lib/serviceutil"

	"connectrpc.com/connect"
)

// Client calls the uploader service over connect with the json codec.
type Client struct {
	startUpload   *connect.Client[StartUploadRequest, StartUploadResponse]
	getRun        *connect.Client[GetRunRequest, GetRunResponse]
	listRuns      *connect.Client[ListRunsRequest, ListRunsResponse]
	addJournal    *connect.Client[AddJournalRequest, AddJournalResponse]
	updateJournal *connect.Client[UpdateJournalRequest, UpdateJournalResponse]
	deleteJournal *connect.Client[DeleteJournalRequest, DeleteJournalResponse]
	listJournals  *connect.Client[ListJournalsRequest, ListJournalsResponse]
}

func NewClient(httpClient connect.HTTPClient, baseUrl string, opts ...connect.ClientOption) Client {
	baseUrl = strings.TrimRight(baseUrl, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(serviceutil.JsonCodec{})}, opts...)
	return Client{
		startUpload:   connect.NewClient[StartUploadRequest, StartUploadResponse](httpClient, baseUrl+StartUploadProcedure, opts...),
		getRun:        connect.NewClient[GetRunRequest, GetRunResponse](httpClient, baseUrl+GetRunProcedure, opts...),
		listRuns:      connect.NewClient[ListRunsRequest, ListRunsResponse](httpClient, baseUrl+ListRunsProcedure, opts...),
		addJournal:    connect.NewClient[AddJournalRequest, AddJournalResponse](httpClient, baseUrl+AddJournalProcedure, opts...),
		updateJournal: connect.NewClient[UpdateJournalRequest, UpdateJournalResponse](httpClient, baseUrl+UpdateJournalProcedure, opts...),
		deleteJournal: connect.NewClient[DeleteJournalRequest, DeleteJournalResponse](httpClient, baseUrl+DeleteJournalProcedure, opts...),
		listJournals:  connect.NewClient[ListJournalsRequest, ListJournalsResponse](httpClient, baseUrl+ListJournalsProcedure, opts...),
	}
}

func (c Client) StartUpload(ctx context.Context, req *StartUploadRequest) (*StartUploadResponse, error) {
	res, err := c.startUpload.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c Client) GetRun(ctx context.Context, id string) (*GetRunResponse, error) {
	res, err := c.getRun.CallUnary(ctx, connect.NewRequest(&GetRunRequest{Id: id}))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c Client) ListRuns(ctx context.Context) (*ListRunsResponse, error) {
	res, err := c.listRuns.CallUnary(ctx, connect.NewRequest(&ListRunsRequest{}))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c Client) AddJournal(ctx context.Context, in JournalInput) (*AddJournalResponse, error) {
	res, err := c.addJournal.CallUnary(ctx, connect.NewRequest(&AddJournalRequest{Journal: in}))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c Client) UpdateJournal(ctx context.Context, id string, in JournalInput) (*UpdateJournalResponse, error) {
	res, err := c.updateJournal.CallUnary(ctx, connect.NewRequest(&UpdateJournalRequest{Id: id, Journal: in}))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c Client) DeleteJournal(ctx context.Context, id string) error {
	_, err := c.deleteJournal.CallUnary(ctx, connect.NewRequest(&DeleteJournalRequest{Id: id}))
	return err
}

func (c Client) ListJournals(ctx context.Context) (*ListJournalsResponse, error) {
	res, err := c.listJournals.CallUnary(ctx, connect.NewRequest(&ListJournalsRequest{}))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}
