/*
包 proactive 负责 KITT 主动开口：整点问候、温度与内存告警、警戒模式下的
摄像头人数变化告警、计时结束提醒，以及对话监控流。

# 核心类型

  - Hub：websocket 订阅者集合，每个订阅者一个有界出站队列，
    写失败的订阅者被移除；主动播报与对话监控各用一个 Hub
  - Broadcaster：robfig/cron 调度 Tick（默认 60 秒）与 VigilanceTick（默认 20 秒）
  - Watermark：进程级最近交互时间，播报前据此避让正在进行的对话
  - Event / MonitorEvent：线上消息（proactive、vigilance_alert、timer_done、
    user_msg、assistant_msg）
*/
package proactive
