package crontab

import (
	"github.com/caiflower/fcgi-server/pkg/logger"
	"github.com/robfig/cron/v3"
)

var DefaultCronManger = NewCronTabManger("DefaultCronManger")

type CronManger struct {
	name string
	cron *cron.Cron
}

// NewCronTabManger 支持秒级表达式以及 @every 1m 这类描述符
func NewCronTabManger(name string) *CronManger {
	return &CronManger{name: name, cron: cron.New(cron.WithSeconds())}
}

func (c *CronManger) Name() string {
	return c.name
}

func (c *CronManger) GetCron() *cron.Cron {
	return c.cron
}

func (c *CronManger) Start() {
	c.cron.Start()
}

func Start() {
	DefaultCronManger.Start()
}

func (c *CronManger) Close() {
	<-c.cron.Stop().Done()
}

func Close() {
	DefaultCronManger.Close()
}

func (c *CronManger) AddCronJob(spec string, job cron.Job) (cron.EntryID, error) {
	eid, err := c.cron.AddJob(spec, job)
	if err != nil {
		logger.Error("[Crontab] Add crontab failed. spec=%s. err=%v", spec, err)
		return eid, err
	}
	logger.Info("[Crontab] Add crontab. name=%s. spec=%s. jobId=%v", c.name, spec, eid)
	return eid, nil
}

func AddCronJob(spec string, job cron.Job) (cron.EntryID, error) {
	return DefaultCronManger.AddCronJob(spec, job)
}

func (c *CronManger) RemoveCronJob(id cron.EntryID) {
	c.cron.Remove(id)
}

func RemoveCronJob(id cron.EntryID) {
	DefaultCronManger.RemoveCronJob(id)
}
